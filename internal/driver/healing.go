package driver

import (
	"context"
	"encoding/json"

	"Cradle-storage/internal/entity"
	"Cradle-storage/internal/healing"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
)

func (d *Driver) StoreHealingInterval(ctx context.Context, i *healing.Interval) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if err := d.insert(ctx, entity.HealingIntervals, entity.HealingRow(i)); err != nil {
		return annotate(err, "could not store healing interval", storeerr.WithBook(i.Book), storeerr.WithID(i.ID))
	}
	return nil
}

// GetHealingIntervals returns the intervals of a book ordered by id.
func (d *Driver) GetHealingIntervals(ctx context.Context, bookID string) ([]*healing.Interval, error) {
	rows, err := d.selectAll(ctx, storage.Query{
		Table:     entity.HealingIntervals.Name,
		Partition: storage.Row{entity.ColBook: bookID},
	})
	if err != nil {
		return nil, annotate(err, "could not read healing intervals", storeerr.WithBook(bookID))
	}
	out := make([]*healing.Interval, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.HealingFromRow(row))
	}
	return out, nil
}

// UpdateRecoveryState replaces the recovery state of a stored interval.
func (d *Driver) UpdateRecoveryState(ctx context.Context, bookID, id string, state json.RawMessage) error {
	opts := []storeerr.Option{storeerr.WithBook(bookID), storeerr.WithID(id)}
	if len(state) > 0 && !json.Valid(state) {
		return storeerr.New(storeerr.ValidationError, "recovery state is not valid JSON", opts...)
	}
	key := []interface{}{id}
	_, ok, err := d.selectOne(ctx, storage.Query{
		Table:     entity.HealingIntervals.Name,
		Partition: storage.Row{entity.ColBook: bookID},
		From:      &storage.Bound{Values: key, Inclusive: true},
		To:        &storage.Bound{Values: key, Inclusive: true},
	})
	if err != nil {
		return annotate(err, "could not read healing interval", opts...)
	}
	if !ok {
		return storeerr.New(storeerr.NotFound, "healing interval not found", opts...)
	}
	err = d.update(ctx, entity.HealingIntervals, storage.Row{
		entity.ColBook:          bookID,
		entity.ColID:            id,
		entity.ColRecoveryState: string(state),
	})
	if err != nil {
		return annotate(err, "could not update recovery state", opts...)
	}
	return nil
}
