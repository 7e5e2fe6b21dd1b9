package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/stevemurr/recstore/record"
)

type changeKind int

const (
	changeInsert changeKind = iota
	changeUpdate
	changeDelete
)

type change struct {
	kind changeKind
	rec  record.Record
}

// EntityManager is the persistence context for one mapped record type.
// Persist, Assign and Remove only schedule changes; Flush writes every
// scheduled change in one statement batch.
//
// A failed Flush rolls back the whole batch (unless an explicit
// transaction is open, in which case the caller decides) and discards the
// scheduled changes.
type EntityManager struct {
	db    *DB
	table string

	mu      sync.Mutex
	pending []change
}

func (m *EntityManager) schedule(kind changeKind, rec record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, change{kind: kind, rec: rec})
}

// Persist schedules rec for insertion. rec must carry an id.
func (m *EntityManager) Persist(rec record.Record) {
	m.schedule(changeInsert, record.Clone(rec))
}

// Assign merges data onto entity, schedules the result for update and
// returns it.
func (m *EntityManager) Assign(entity, data record.Record) record.Record {
	merged := record.Merge(entity, data)
	m.schedule(changeUpdate, merged)
	return record.Clone(merged)
}

// Remove schedules entity for deletion.
func (m *EntityManager) Remove(entity record.Record) {
	m.schedule(changeDelete, record.Record{record.IDField: entity.ID()})
}

// Clear discards all scheduled changes.
func (m *EntityManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

// Flush writes all scheduled changes.
func (m *EntityManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	err := m.db.write(ctx, func(q querier) error {
		for _, c := range pending {
			if err := m.apply(ctx, q, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.db.logger.Warn("flush failed", "table", m.table, "changes", len(pending), "error", err)
		return err
	}
	m.db.logger.Debug("flushed", "table", m.table, "changes", len(pending))
	return nil
}

func (m *EntityManager) apply(ctx context.Context, q querier, c change) error {
	id := c.rec.ID()
	switch c.kind {
	case changeDelete:
		_, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, m.table), id)
		return err
	}
	b, err := json.Marshal(c.rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", m.table, id, err)
	}
	if c.kind == changeInsert {
		_, err = q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (id, data) VALUES (?, ?)`, m.table), id, string(b))
		if err != nil {
			return fmt.Errorf("insert %s %s: %w", m.table, id, err)
		}
		return nil
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`UPDATE %q SET data = ? WHERE id = ?`, m.table), string(b), id)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", m.table, id, err)
	}
	return nil
}

// FindByID loads a record by id, or returns nil.
func (m *EntityManager) FindByID(ctx context.Context, id string) (record.Record, error) {
	return m.db.lookup(ctx, m.table, id)
}

// FindOne returns the first record matching filter in insertion order, or nil.
func (m *EntityManager) FindOne(ctx context.Context, filter record.Filter) (record.Record, error) {
	recs, err := m.Find(ctx, filter, record.FindOptions{Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// Find runs a filtered, ordered and paginated query. Without an order,
// records come back in insertion order.
func (m *EntityManager) Find(ctx context.Context, filter record.Filter, opts record.FindOptions) ([]record.Record, error) {
	query, args, err := buildSelect(m.table, filter, opts)
	if err != nil {
		return nil, err
	}
	var recs []record.Record
	err = m.db.read(func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			var rec record.Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("decode %s row: %w", m.table, err)
			}
			recs = append(recs, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

// Lookup loads a record of another type mapped in the same database.
// Returns nil if the table or the record does not exist.
func (m *EntityManager) Lookup(ctx context.Context, typeName, id string) (record.Record, error) {
	if !identRe.MatchString(typeName) {
		return nil, fmt.Errorf("%w: table %q", ErrInvalidName, typeName)
	}
	if err := m.db.ensureTable(ctx, typeName); err != nil {
		return nil, err
	}
	return m.db.lookup(ctx, typeName, id)
}

// Begin, Commit and Rollback control the explicit transaction of the
// shared database.
func (m *EntityManager) Begin(ctx context.Context) error    { return m.db.Begin(ctx) }
func (m *EntityManager) Commit(ctx context.Context) error   { return m.db.Commit(ctx) }
func (m *EntityManager) Rollback(ctx context.Context) error { return m.db.Rollback(ctx) }

func (d *DB) lookup(ctx context.Context, table, id string) (record.Record, error) {
	var raw string
	err := d.read(func(q querier) error {
		return q.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %q WHERE id = ?`, table), id).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", table, id, err)
	}
	return rec, nil
}

func jsonPath(field string) (string, error) {
	if field == "" || strings.ContainsAny(field, `"\`) {
		return "", fmt.Errorf("%w: field %q", ErrInvalidName, field)
	}
	return `$."` + field + `"`, nil
}

// buildSelect turns a filter and find options into a SELECT over the JSON
// documents of table.
func buildSelect(table string, filter record.Filter, opts record.FindOptions) (string, []any, error) {
	var (
		sb    strings.Builder
		conds []string
		args  []any
	)
	fmt.Fprintf(&sb, `SELECT data FROM %q`, table)

	for _, field := range sortedKeys(filter) {
		path, err := jsonPath(field)
		if err != nil {
			return "", nil, err
		}
		switch v := record.Normalize(filter[field]).(type) {
		case nil:
			conds = append(conds, "json_extract(data, ?) IS NULL")
			args = append(args, path)
		case bool:
			conds = append(conds, "json_type(data, ?) = ?")
			kind := "false"
			if v {
				kind = "true"
			}
			args = append(args, path, kind)
		case map[string]any, []any:
			b, _ := json.Marshal(v)
			conds = append(conds, "json_extract(data, ?) = json(?)")
			args = append(args, path, string(b))
		default:
			conds = append(conds, "json_extract(data, ?) = ?")
			args = append(args, path, v)
		}
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	if opts.OrderBy != nil {
		path, err := jsonPath(opts.OrderBy.Field)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if opts.OrderBy.Direction == record.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s, json_extract(data, ?) %s, rowid ASC", typeRank, dir, dir)
		args = append(args, path, path)
	} else {
		sb.WriteString(" ORDER BY rowid ASC")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := max(opts.Offset, 0)
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	return sb.String(), args, nil
}

// typeRank orders JSON types the way record.Compare does: missing and
// null, then booleans, numbers, strings, and arrays and objects last.
const typeRank = `CASE COALESCE(json_type(data, ?), 'null')
	WHEN 'null' THEN 0
	WHEN 'false' THEN 1 WHEN 'true' THEN 1
	WHEN 'integer' THEN 2 WHEN 'real' THEN 2
	WHEN 'text' THEN 3
	ELSE 4 END`

func sortedKeys(f record.Filter) []string {
	return slices.Sorted(maps.Keys(f))
}
