package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }
func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows by embedding the interface and overriding only
// the methods the repo layer actually calls; anything else would panic on a
// nil embedded value, which is fine since the repo never calls it.
type rowsStub struct {
	pgx.Rows
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *rowsStub) Next() bool {
	return r.idx < len(r.scans)
}

func (r *rowsStub) Scan(dest ...any) error {
	fn := r.scans[r.idx]
	r.idx++
	return fn(dest...)
}

func (r *rowsStub) Err() error { return r.err }
func (r *rowsStub) Close()     {}

// txStub implements pgx.Tx the same way, for the transactional repo methods
// (Transition, ClaimNext).
type txStub struct {
	pgx.Tx
	row         rowStub
	execErr     error
	commitErr   error
	rollbackErr error
}

func (t txStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, t.execErr
}
func (t txStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row { return t.row }
func (t txStub) Commit(_ context.Context) error                        { return t.commitErr }
func (t txStub) Rollback(_ context.Context) error                      { return t.rollbackErr }

// poolStub implements postgres.PgxPool for tests. Define in a shared helper
// so multiple *_test.go files can reuse it without redefs.
type poolStub struct {
	execErr    error
	row        rowStub
	rows       *rowsStub
	queryErr   error
	tx         txStub
	beginTxErr error
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginTxErr != nil {
		return nil, p.beginTxErr
	}
	return p.tx, nil
}
