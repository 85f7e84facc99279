package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

//go:embed seed.json
var defaultSeed []byte

// Dataset is the seed file layout.
type Dataset struct {
	Categories   []CategorySeed   `json:"categories"`
	Universities []UniversitySeed `json:"universities"`
}

type CategorySeed struct {
	Name string `json:"name"`
}

type UniversitySeed struct {
	Name string  `json:"name"`
	City *string `json:"city"`
}

// Summary counts rows actually inserted.
type Summary struct {
	Categories   int
	Universities int
}

// Upserter is the store surface the seeder writes through.
type Upserter interface {
	UpsertCategory(ctx context.Context, name string) (bool, error)
	UpsertUniversity(ctx context.Context, name string, city *string) (bool, error)
}

// ParseDataset decodes and checks a seed file. Names are trimmed; blank
// names are an error.
func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	var errs []error
	for i := range ds.Categories {
		ds.Categories[i].Name = strings.TrimSpace(ds.Categories[i].Name)
		if ds.Categories[i].Name == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: name is required", i))
		}
	}
	for i := range ds.Universities {
		u := &ds.Universities[i]
		u.Name = strings.TrimSpace(u.Name)
		if u.Name == "" {
			errs = append(errs, fmt.Errorf("universities[%d]: name is required", i))
		}
		if u.City != nil {
			city := strings.TrimSpace(*u.City)
			if city == "" {
				u.City = nil
			} else {
				u.City = &city
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &ds, nil
}

// Apply inserts every row that is not already present by name.
func Apply(ctx context.Context, store Upserter, ds *Dataset) (Summary, error) {
	var sum Summary
	for _, c := range ds.Categories {
		inserted, err := store.UpsertCategory(ctx, c.Name)
		if err != nil {
			return sum, fmt.Errorf("seed category %q: %w", c.Name, err)
		}
		if inserted {
			sum.Categories++
		}
	}
	for _, u := range ds.Universities {
		inserted, err := store.UpsertUniversity(ctx, u.Name, u.City)
		if err != nil {
			return sum, fmt.Errorf("seed university %q: %w", u.Name, err)
		}
		if inserted {
			sum.Universities++
		}
	}
	return sum, nil
}
