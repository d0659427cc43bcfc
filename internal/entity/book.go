package entity

import (
	"encoding/json"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/healing"
	"Cradle-storage/internal/storage"
)

// BookRow is the books row of b for the given instance.
func BookRow(instance string, b *book.BookInfo) storage.Row {
	return storage.Row{
		ColInstance:    instance,
		ColName:        b.ID,
		ColFullName:    b.FullName,
		ColDescription: b.Description,
		ColCreated:     b.Created,
	}
}

// BookFromRow reads a books row; pages are loaded separately.
func BookFromRow(row storage.Row, pages []book.PageInfo) *book.BookInfo {
	return book.New(row.String(ColName), row.String(ColFullName), row.String(ColDescription), row.Time(ColCreated), pages)
}

func PageRow(p book.PageInfo) storage.Row {
	return storage.Row{
		ColBook:    p.ID.Book,
		ColStarted: p.Started,
		ColName:    p.ID.Name,
		ColEnded:   p.Ended,
		ColComment: p.Comment,
		ColUpdated: p.Updated,
	}
}

func PageFromRow(row storage.Row) book.PageInfo {
	return book.PageInfo{
		ID:      book.PageID{Book: row.String(ColBook), Name: row.String(ColName)},
		Started: row.Time(ColStarted),
		Ended:   row.Time(ColEnded),
		Comment: row.String(ColComment),
		Updated: row.Time(ColUpdated),
	}
}

func HealingRow(i *healing.Interval) storage.Row {
	row := storage.Row{
		ColBook:         i.Book,
		ColID:           i.ID,
		ColHealingStart: i.Start,
		ColHealingEnd:   i.End,
	}
	if len(i.RecoveryState) > 0 {
		row[ColRecoveryState] = string(i.RecoveryState)
	}
	return row
}

func HealingFromRow(row storage.Row) *healing.Interval {
	i := &healing.Interval{
		ID:    row.String(ColID),
		Book:  row.String(ColBook),
		Start: row.Duration(ColHealingStart),
		End:   row.Duration(ColHealingEnd),
	}
	if s := row.String(ColRecoveryState); s != "" {
		i.RecoveryState = json.RawMessage(s)
	}
	return i
}
