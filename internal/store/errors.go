package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by mutations that target a row that does not exist.
// Lookups return nil, nil instead.
var ErrNotFound = errors.New("not found")

type scanner interface{ Scan(...any) error }

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func now() time.Time {
	return time.Now().UTC()
}
