package store

import (
	"context"
	"errors"

	"github.com/stevemurr/recstore/record"
)

// createEach, updateEach and deleteEach implement the bulk operations as
// independent single-record calls. Every element is attempted; failures are
// joined and returned after the whole batch ran.

func createEach(ctx context.Context, s Store, data []record.Record) ([]record.Record, error) {
	out := make([]record.Record, len(data))
	var errs []error
	for i, d := range data {
		rec, err := s.Create(ctx, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[i] = rec
	}
	return out, errors.Join(errs...)
}

func updateEach(ctx context.Context, s Store, patches []record.Patch) ([]record.Record, error) {
	out := make([]record.Record, len(patches))
	var errs []error
	for i, p := range patches {
		rec, err := s.Update(ctx, p.ID, p.Data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[i] = rec
	}
	return out, errors.Join(errs...)
}

func deleteEach(ctx context.Context, s Store, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
