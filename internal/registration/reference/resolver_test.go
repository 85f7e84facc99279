package reference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"int20h/internal/registration/models"
	"int20h/pkg/platform/sentinel"
)

type fakeLookup struct {
	categories   map[int64]bool
	universities map[int64]bool
	err          error
	uniCalls     int
}

func (f *fakeLookup) CategoryExists(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.categories[id], nil
}

func (f *fakeLookup) UniversityExists(_ context.Context, id int64) (bool, error) {
	f.uniCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.universities[id], nil
}

func int64Ptr(v int64) *int64 { return &v }

func TestResolve(t *testing.T) {
	lookup := &fakeLookup{
		categories:   map[int64]bool{1: true},
		universities: map[int64]bool{7: true},
	}
	r := NewResolver(lookup)
	ctx := context.Background()

	t.Run("both exist", func(t *testing.T) {
		err := r.Resolve(ctx, &models.Registration{CategoryID: 1, UniversityID: int64Ptr(7)})
		assert.NoError(t, err)
	})

	t.Run("no university skips the lookup", func(t *testing.T) {
		l := &fakeLookup{categories: map[int64]bool{1: true}}
		err := NewResolver(l).Resolve(ctx, &models.Registration{CategoryID: 1})
		assert.NoError(t, err)
		assert.Zero(t, l.uniCalls)
	})

	t.Run("missing category", func(t *testing.T) {
		err := r.Resolve(ctx, &models.Registration{CategoryID: 2})
		se, ok := models.AsSubmissionError(err)
		require.True(t, ok)
		assert.Equal(t, models.KindReferenceNotFound, se.Kind)
		assert.Equal(t, "category_id", se.Field)
	})

	t.Run("university reported before category", func(t *testing.T) {
		err := r.Resolve(ctx, &models.Registration{CategoryID: 2, UniversityID: int64Ptr(99)})
		se, ok := models.AsSubmissionError(err)
		require.True(t, ok)
		assert.Equal(t, "university_id", se.Field)
	})

	t.Run("lookup failure is not a business rejection", func(t *testing.T) {
		l := &fakeLookup{err: sentinel.ErrUnavailable}
		err := NewResolver(l).Resolve(ctx, &models.Registration{CategoryID: 1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
		_, ok := models.AsSubmissionError(err)
		assert.False(t, ok)
	})
}
