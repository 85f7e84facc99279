// Package reference confirms that the category and university a registration
// points at exist before any write happens.
package reference

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"int20h/internal/registration/models"
)

// Lookup is the read-only part of the store the resolver needs.
type Lookup interface {
	CategoryExists(ctx context.Context, id int64) (bool, error)
	UniversityExists(ctx context.Context, id int64) (bool, error)
}

type Resolver struct {
	lookup Lookup
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns ReferenceNotFound for the first missing reference, checking
// university_id before category_id. Lookup failures are returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, reg *models.Registration) error {
	var categoryFound, universityFound bool
	universityFound = reg.UniversityID == nil

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := r.lookup.CategoryExists(gctx, reg.CategoryID)
		if err != nil {
			return fmt.Errorf("checking category %d: %w", reg.CategoryID, err)
		}
		categoryFound = ok
		return nil
	})
	if reg.UniversityID != nil {
		id := *reg.UniversityID
		g.Go(func() error {
			ok, err := r.lookup.UniversityExists(gctx, id)
			if err != nil {
				return fmt.Errorf("checking university %d: %w", id, err)
			}
			universityFound = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !universityFound {
		return models.NewReferenceNotFound("university_id")
	}
	if !categoryFound {
		return models.NewReferenceNotFound("category_id")
	}
	return nil
}
