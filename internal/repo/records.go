package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"chronoline/internal/codec"
	"chronoline/internal/schema"
)

// Records is the generic record store: point lookup, filtered scan, insert
// and update-by-identifier over any cataloged entity. Structured columns are
// decoded on the way out and encoded on the way in; everything else passes
// through untouched.
type Records struct {
	DB *sql.DB
}

// GetRecord returns one record as a column→value map, decoded.
func (s Records) GetRecord(ctx context.Context, e schema.Entity, id string) (map[string]any, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE id=?`, e.Table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return codec.Decode(e, recs[0]), nil
}

// FindRecords scans records matching equality filters, decoded, newest first.
func (s Records) FindRecords(ctx context.Context, e schema.Entity, filters map[string]any, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf(`SELECT * FROM %s`, e.Table)
	var args []any
	if len(filters) > 0 {
		cols := make([]string, 0, len(filters))
		for col := range filters {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		clauses := make([]string, 0, len(cols))
		for _, col := range cols {
			clauses = append(clauses, col+"=?")
			args = append(args, filters[col])
		}
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i] = codec.Decode(e, recs[i])
	}
	return recs, nil
}

// InsertRecord writes a new record from a column→value map, encoding
// structured containers first.
func (s Records) InsertRecord(ctx context.Context, e schema.Entity, rec map[string]any) error {
	rec, err := codec.Encode(e, rec)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(rec))
	for col := range rec {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = rec[col]
	}
	query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`,
		e.Table, strings.Join(cols, ","), strings.Join(placeholders, ","))
	_, err = s.DB.ExecContext(ctx, query, args...)
	return err
}

// UpdateFields applies a change-set to one record by identifier. Structured
// containers in the change-set are encoded; text values are written as given.
func (s Records) UpdateFields(ctx context.Context, e schema.Entity, id string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	changes, err := codec.Encode(e, changes)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(changes))
	for col := range changes {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	sets := make([]string, 0, len(cols))
	var args []any
	for _, col := range cols {
		sets = append(sets, col+"=?")
		args = append(args, changes[col])
	}
	args = append(args, id)
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=?`, e.Table, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord removes one record by identifier.
func (s Records) DeleteRecord(ctx context.Context, e schema.Entity, id string) error {
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, e.Table), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWhere counts records whose column matches a LIKE pattern.
func (s Records) CountWhere(ctx context.Context, e schema.Entity, column, pattern string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s LIKE ?`, e.Table, column), pattern).Scan(&n)
	return n, err
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := vals[i].(type) {
			case []byte:
				rec[col] = string(v)
			default:
				rec[col] = v
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
