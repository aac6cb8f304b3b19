package postgres

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	values []any
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return r.data[r.idx-1], nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }

// assign copies values into the scan destinations by reflection; a nil value
// zeroes the destination.
func assign(values, dest []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		d := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			d.SetZero()
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(d.Type()) {
			return fmt.Errorf("scan: cannot assign %T to %s at index %d", v, d.Type(), i)
		}
		d.Set(rv)
	}
	return nil
}

type call struct {
	sql  string
	args []any
}

// mockDB implements DB for testing and records every statement.
type mockDB struct {
	queryRowFunc func(sql string, args ...any) pgx.Row
	queryFunc    func(sql string, args ...any) (pgx.Rows, error)
	execFunc     func(sql string, args ...any) (pgconn.CommandTag, error)

	calls []call
}

func (m *mockDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.calls = append(m.calls, call{sql, args})
	if m.queryRowFunc != nil {
		return m.queryRowFunc(sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.calls = append(m.calls, call{sql, args})
	if m.queryFunc != nil {
		return m.queryFunc(sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.calls = append(m.calls, call{sql, args})
	if m.execFunc != nil {
		return m.execFunc(sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}
