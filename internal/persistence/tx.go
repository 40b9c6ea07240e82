package persistence

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/roundkeeper/internal/metrics"
)

// Tx is the transactional handle passed to a WithTx callback: typed
// insert/batch_insert/delete/update/select operations, all validated
// against the fixed table allow-list, per spec §4.5.
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn against a fresh transaction, committing on a nil
// return and rolling back otherwise. The underlying connection is
// always released back to the pool.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		err = sqlTx.Commit()
	}()

	err = fn(ctx, &Tx{tx: sqlTx})
	return err
}

// Insert writes one row into table, deriving column names from the
// row struct's `db` tags.
func (t *Tx) Insert(ctx context.Context, row any, table Table) error {
	name, ok := table.name()
	if !ok {
		return fmt.Errorf("persistence: table %v not in allow-list", table)
	}

	cols, placeholders, args := structBindings(row, 1)
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING`,
		name, strings.Join(quoteIdents(cols), ", "), strings.Join(placeholders, ", "),
	)
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

// BatchInsert writes many rows into table in one statement, recording
// the batch size metric (§8's DBBatchSize).
func (t *Tx) BatchInsert(ctx context.Context, rows []any, table Table) error {
	if len(rows) == 0 {
		return nil
	}
	name, ok := table.name()
	if !ok {
		return fmt.Errorf("persistence: table %v not in allow-list", table)
	}

	cols, _, _ := structBindings(rows[0], 1)
	var valueGroups []string
	var args []any
	argIdx := 1
	for _, row := range rows {
		_, placeholders, rowArgs := structBindings(row, argIdx)
		valueGroups = append(valueGroups, "("+strings.Join(placeholders, ", ")+")")
		args = append(args, rowArgs...)
		argIdx += len(rowArgs)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES %s ON CONFLICT DO NOTHING`,
		name, strings.Join(quoteIdents(cols), ", "), strings.Join(valueGroups, ", "),
	)
	metrics.DBBatchSize.WithLabelValues(name).Observe(float64(len(rows)))
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

// Delete removes rows from table matching where (a simple AND of
// column = value equalities; sufficient for the pipeline's use, which
// only ever deletes by epoch).
func (t *Tx) Delete(ctx context.Context, table Table, where map[string]any) error {
	name, ok := table.name()
	if !ok {
		return fmt.Errorf("persistence: table %v not in allow-list", table)
	}
	clause, args := whereClause(where, 1)
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, name, clause)
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

// Update sets columns in set for rows matching where.
func (t *Tx) Update(ctx context.Context, table Table, set map[string]any, where map[string]any) error {
	name, ok := table.name()
	if !ok {
		return fmt.Errorf("persistence: table %v not in allow-list", table)
	}

	var setParts []string
	var args []any
	idx := 1
	for col, val := range set {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", quoteIdent(col), idx))
		args = append(args, val)
		idx++
	}
	clause, whereArgs := whereClause(where, idx)
	args = append(args, whereArgs...)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, name, strings.Join(setParts, ", "), clause)
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

// Select reads cols from table matching where into dest (a pointer to
// a slice of structs with matching `db` tags).
func (t *Tx) Select(ctx context.Context, dest any, table Table, cols []string, where map[string]any) error {
	name, ok := table.name()
	if !ok {
		return fmt.Errorf("persistence: table %v not in allow-list", table)
	}
	clause, args := whereClause(where, 1)
	colList := "*"
	if len(cols) > 0 {
		colList = strings.Join(quoteIdents(cols), ", ")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, colList, name, clause)
	return t.tx.SelectContext(ctx, dest, query, args...)
}

// Exists reports whether any row in table matches where.
func (t *Tx) Exists(ctx context.Context, table Table, where map[string]any) (bool, error) {
	name, ok := table.name()
	if !ok {
		return false, fmt.Errorf("persistence: table %v not in allow-list", table)
	}
	clause, args := whereClause(where, 1)
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s)`, name, clause)
	var exists bool
	err := t.tx.GetContext(ctx, &exists, query, args...)
	return exists, err
}

func whereClause(where map[string]any, startIdx int) (string, []any) {
	if len(where) == 0 {
		return "TRUE", nil
	}
	var parts []string
	var args []any
	idx := startIdx
	for col, val := range where {
		parts = append(parts, fmt.Sprintf("%s = $%d", quoteIdent(col), idx))
		args = append(args, val)
		idx++
	}
	return strings.Join(parts, " AND "), args
}

// quoteIdent double-quotes a Postgres identifier. Columns always come
// from the fixed set of `db` struct tags or literal map keys written
// by this package, never from request input, but quoting keeps them
// immune to a future reserved-word collision regardless.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// structBindings reflects over row's `db`-tagged fields, returning
// column names, positional placeholders starting at startIdx, and the
// field values in matching order.
func structBindings(row any, startIdx int) (cols []string, placeholders []string, args []any) {
	v := reflect.ValueOf(row)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	typ := v.Type()

	idx := startIdx
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		cols = append(cols, tag)
		placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
		args = append(args, v.Field(i).Interface())
		idx++
	}
	return cols, placeholders, args
}
