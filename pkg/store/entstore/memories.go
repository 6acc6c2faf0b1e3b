package entstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/agentsim/pkg/store"
)

// Capabilities probes the memories table for the optional columns.
func (s *Store) Capabilities(ctx context.Context) (store.SchemaCapabilities, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if s.dialect == dialect.Postgres {
		rows, err = s.db.QueryContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
			memoriesTable)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('`+memoriesTable+`')`)
	}
	if err != nil {
		return store.SchemaCapabilities{}, fmt.Errorf("probe columns: %w", err)
	}
	defer rows.Close()

	var caps store.SchemaCapabilities
	seen := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return store.SchemaCapabilities{}, err
		}
		seen++
		switch name {
		case "importance":
			caps.HasImportance = true
		case "access_count":
			caps.HasAccessCount = true
		case "last_accessed_at":
			caps.HasLastAccessed = true
		}
	}
	if err := rows.Err(); err != nil {
		return store.SchemaCapabilities{}, err
	}
	if seen == 0 {
		return store.SchemaCapabilities{}, fmt.Errorf("probe columns: table %q not found", memoriesTable)
	}
	return caps, nil
}

// InsertMemory writes a record, omitting columns the schema lacks.
func (s *Store) InsertMemory(ctx context.Context, rec store.MemoryRecord, caps store.SchemaCapabilities) error {
	meta, err := encodeJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var emb any
	if len(rec.Embedding) > 0 {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		emb = string(b)
	}
	cols := []string{"id", "user_id", "content", "type", "embedding", "metadata", "created_at"}
	vals := []any{rec.ID, rec.UserID, rec.Content, string(rec.Type), emb, meta, rec.CreatedAt.UTC()}
	if caps.HasImportance {
		cols = append(cols, "importance")
		vals = append(vals, rec.Importance)
	}
	if caps.HasAccessCount {
		cols = append(cols, "access_count")
		vals = append(vals, rec.AccessCount)
	}
	if caps.HasLastAccessed && rec.LastAccessedAt != nil {
		cols = append(cols, "last_accessed_at")
		vals = append(vals, rec.LastAccessedAt.UTC())
	}
	query, args := s.builder().Insert(memoriesTable).Columns(cols...).Values(vals...).Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// GetMemories loads the given ids for a user. Order is unspecified.
func (s *Store) GetMemories(ctx context.Context, userID string, ids []string, caps store.SchemaCapabilities) ([]store.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	sel := s.builder().Select(memorySelectColumns(caps)...).
		From(entsql.Table(memoriesTable)).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.In("id", args...)))
	return s.queryMemories(ctx, sel, caps)
}

// ListMemories returns a page of a user's memories, newest first.
func (s *Store) ListMemories(ctx context.Context, q store.ListQuery, caps store.SchemaCapabilities) ([]store.MemoryRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	pred := entsql.EQ("user_id", q.UserID)
	if q.EmbeddedOnly {
		pred = entsql.And(pred, entsql.NotNull("embedding"))
	}
	sel := s.builder().Select(memorySelectColumns(caps)...).
		From(entsql.Table(memoriesTable)).
		Where(pred).
		OrderExpr(entsql.Expr("created_at DESC, id DESC")).
		Limit(limit)
	if q.Offset > 0 {
		sel = sel.Offset(q.Offset)
	}
	return s.queryMemories(ctx, sel, caps)
}

// UpdateImportance sets the importance column for a record.
func (s *Store) UpdateImportance(ctx context.Context, id string, importance float64) error {
	query, args := s.builder().Update(memoriesTable).
		Set("importance", importance).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordAccess bumps access_count and stamps last_accessed_at when present.
func (s *Store) RecordAccess(ctx context.Context, id string, at time.Time, caps store.SchemaCapabilities) error {
	if !caps.TracksAccess() {
		return nil
	}
	upd := s.builder().Update(memoriesTable)
	if caps.HasAccessCount {
		upd = upd.Add("access_count", 1)
	}
	if caps.HasLastAccessed {
		upd = upd.Set("last_accessed_at", at.UTC())
	}
	query, args := upd.Where(entsql.EQ("id", id)).Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

// DeleteMemoriesBefore removes a user's memories created before cutoff and
// returns the deleted ids.
func (s *Store) DeleteMemoriesBefore(ctx context.Context, userID string, cutoff time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	pred := entsql.And(entsql.EQ("user_id", userID), entsql.LT("created_at", cutoff.UTC()))
	query, args := s.builder().Select("id").From(entsql.Table(memoriesTable)).Where(pred).Query()
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	var ids []any
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		out = append(out, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}
	query, args = s.builder().Delete(memoriesTable).Where(entsql.In("id", ids...)).Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func memorySelectColumns(caps store.SchemaCapabilities) []string {
	cols := []string{"id", "user_id", "content", "type", "embedding", "metadata", "created_at"}
	if caps.HasImportance {
		cols = append(cols, "importance")
	}
	if caps.HasAccessCount {
		cols = append(cols, "access_count")
	}
	if caps.HasLastAccessed {
		cols = append(cols, "last_accessed_at")
	}
	return cols
}

func (s *Store) queryMemories(ctx context.Context, sel *entsql.Selector, caps store.SchemaCapabilities) ([]store.MemoryRecord, error) {
	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []store.MemoryRecord
	for rows.Next() {
		var (
			rec        store.MemoryRecord
			typ        string
			emb, meta  sql.NullString
			importance sql.NullFloat64
			accesses   sql.NullInt64
			lastAccess sql.NullTime
		)
		dest := []any{&rec.ID, &rec.UserID, &rec.Content, &typ, &emb, &meta, &rec.CreatedAt}
		if caps.HasImportance {
			dest = append(dest, &importance)
		}
		if caps.HasAccessCount {
			dest = append(dest, &accesses)
		}
		if caps.HasLastAccessed {
			dest = append(dest, &lastAccess)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Type = store.MemoryType(typ)
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding %s: %w", rec.ID, err)
			}
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", rec.ID, err)
			}
		}
		rec.Importance = store.DefaultImportance
		if importance.Valid {
			rec.Importance = importance.Float64
		}
		if accesses.Valid {
			rec.AccessCount = int(accesses.Int64)
		}
		if lastAccess.Valid {
			t := lastAccess.Time
			rec.LastAccessedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
