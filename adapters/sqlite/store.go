package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/docmap/pkg/doctree"
	"github.com/artpar/docmap/pkg/pipeline"
	"github.com/artpar/docmap/ports"
)

// Store implements ports.DocumentStore using SQLite. Every collection
// shares the documents table; bodies are JSON text and filter clauses
// compile to json_extract conditions over them.
type Store struct {
	db *DB
}

// NewStore creates a document store over an opened database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// FindOne returns the first document matching the filter.
func (s *Store) FindOne(ctx context.Context, collection string, filter ports.Filter) (map[string]any, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ?"+where+" ORDER BY rowid LIMIT 1",
		append([]any{collection}, args...)...)

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return decodeBody(body)
}

// Find returns all documents matching the filter, shaped by opts.
func (s *Store) Find(ctx context.Context, collection string, filter ports.Filter, opts ports.FindOptions) ([]map[string]any, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	q := "SELECT body FROM documents WHERE collection = ?" + where +
		orderBy(opts.Sort) + windowClause(opts.Skip, opts.Limit)
	rows, err := s.db.QueryContext(ctx, q, append([]any{collection}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("find in %s: %w", collection, err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return out, nil
}

// Count returns the number of documents matching the filter.
func (s *Store) Count(ctx context.Context, collection string, filter ports.Filter) (int64, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?"+where,
		append([]any{collection}, args...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// InsertOne stores a new document and returns its id. The primary key
// on (collection, id) rejects duplicates.
func (s *Store) InsertOne(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id, _ := doc[doctree.KeyID].(string)
	if id == "" {
		return "", fmt.Errorf("insert into %s: document has no %s", collection, doctree.KeyID)
	}
	body, err := encodeBody(doc)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)",
		collection, id, body, stampNow())
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	return id, nil
}

// InsertMany stores multiple documents in one transaction, so a
// failing batch leaves nothing behind.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	for _, doc := range docs {
		id, _ := doc[doctree.KeyID].(string)
		if id == "" {
			tx.Rollback()
			return fmt.Errorf("insert into %s: document has no %s", collection, doctree.KeyID)
		}
		body, err := encodeBody(doc)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)",
			collection, id, body, stampNow()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

// ReplaceOne overwrites the first document matching the filter.
func (s *Store) ReplaceOne(ctx context.Context, collection string, filter ports.Filter, doc map[string]any) (int64, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	body, err := encodeBody(doc)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("replace in %s: %w", collection, err)
	}
	var id string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE collection = ?"+where+" ORDER BY rowid LIMIT 1",
		append([]any{collection}, args...)...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return 0, nil
	}
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("replace in %s: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?",
		body, stampNow(), collection, id); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("replace in %s: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("replace in %s: %w", collection, err)
	}
	return 1, nil
}

// UpdateOne applies Set and Inc to the first document matching the
// filter as a read-modify-write inside one immediate transaction, and
// returns the post-update document.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter ports.Filter, update ports.Update) (map[string]any, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	var id, body string
	err = tx.QueryRowContext(ctx,
		"SELECT id, body FROM documents WHERE collection = ?"+where+" ORDER BY rowid LIMIT 1",
		append([]any{collection}, args...)...).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return nil, ports.ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for path, v := range update.Set {
		if err := doctree.Set(doc, path, doctree.Normalize(v)); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("update %s: %w", collection, err)
		}
	}
	for path, by := range update.Inc {
		if err := doctree.Increment(doc, path, by); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("update %s: %w", collection, err)
		}
	}

	next, err := encodeBody(doc)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?",
		next, stampNow(), collection, id); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	return doc, nil
}

// DeleteOne removes the first document matching the filter.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter ports.Filter) (int64, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id IN "+
			"(SELECT id FROM documents WHERE collection = ?"+where+" ORDER BY rowid LIMIT 1)",
		append([]any{collection, collection}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return n, nil
}

// DeleteMany removes all documents matching the filter.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter ports.Filter) (int64, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ?"+where,
		append([]any{collection}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return n, nil
}

// Aggregate loads the collection in insertion order and evaluates the
// stages in memory, so the stage set matches every other store.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []map[string]any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM documents WHERE collection = ? ORDER BY rowid", collection)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", collection, err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	return pipeline.Run(collection, docs, stages)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// -----------------------------------------------------------------------------
// Filter compilation
// -----------------------------------------------------------------------------

// compileFilter renders a filter as AND'ed SQL predicates. The _id
// clause targets the id column; every other path becomes a
// json_extract condition. Clauses emit in sorted path order so a
// filter always compiles to the same statement.
func compileFilter(filter ports.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	paths := make([]string, 0, len(filter))
	for p := range filter {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	var args []any
	for _, p := range paths {
		cond, condArgs, err := condition(p, filter[p])
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(cond)
		args = append(args, condArgs...)
	}
	return b.String(), args, nil
}

// condition builds one SQL predicate for a filter clause. Comparing
// against nil tests for an explicit JSON null; an absent path never
// matches anything.
func condition(path string, want any) (string, []any, error) {
	if path == doctree.KeyID {
		return idCondition(want)
	}
	expr := "json_extract(body, " + sqlPath(path) + ")"
	null := "json_type(body, " + sqlPath(path) + ") = 'null'"

	switch w := want.(type) {
	case nil:
		return null, nil, nil
	case ports.In:
		var args []any
		hasNull := false
		for _, cand := range w {
			if cand == nil {
				hasNull = true
				continue
			}
			v, err := bindValue(cand)
			if err != nil {
				return "", nil, err
			}
			args = append(args, v)
		}
		var terms []string
		if len(args) > 0 {
			terms = append(terms, expr+" IN ("+placeholders(len(args))+")")
		}
		if hasNull {
			terms = append(terms, null)
		}
		if len(terms) == 0 {
			return "0", nil, nil
		}
		return "(" + strings.Join(terms, " OR ") + ")", args, nil
	default:
		v, err := bindValue(w)
		if err != nil {
			return "", nil, err
		}
		return expr + " = ?", []any{v}, nil
	}
}

// idCondition matches against the id column. The column is never null,
// so nil clauses and nil In elements cannot match.
func idCondition(want any) (string, []any, error) {
	switch w := want.(type) {
	case nil:
		return "0", nil, nil
	case ports.In:
		var args []any
		for _, cand := range w {
			if cand == nil {
				continue
			}
			v, err := bindValue(cand)
			if err != nil {
				return "", nil, err
			}
			args = append(args, v)
		}
		if len(args) == 0 {
			return "0", nil, nil
		}
		return "id IN (" + placeholders(len(args)) + ")", args, nil
	default:
		v, err := bindValue(w)
		if err != nil {
			return "", nil, err
		}
		return "id = ?", []any{v}, nil
	}
}

// bindValue converts a filter value to its SQL binding. Booleans bind
// as integers because json_extract surfaces JSON true and false that
// way; datetimes bind as RFC 3339 text, the form JSON bodies carry.
func bindValue(v any) (any, error) {
	switch x := doctree.Normalize(v).(type) {
	case string:
		return x, nil
	case int64:
		return x, nil
	case float64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	}
	return nil, fmt.Errorf("cannot filter on %T", v)
}

// jsonPath renders a flat dot path in SQLite JSON path syntax. Numeric
// segments address sequences, matching doctree.Get.
func jsonPath(path string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(path, ".") {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		b.WriteString(`."` + seg + `"`)
	}
	return b.String()
}

// sqlPath renders the path as a single-quoted SQL literal.
func sqlPath(path string) string {
	return "'" + strings.ReplaceAll(jsonPath(path), "'", "''") + "'"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// orderBy renders the sort clause. rowid is always the final key, so
// equal sort keys keep insertion order and unsorted queries stay
// deterministic.
func orderBy(fields []ports.SortField) string {
	var b strings.Builder
	b.WriteString(" ORDER BY ")
	for _, sf := range fields {
		b.WriteString("json_extract(body, " + sqlPath(sf.Field) + ")")
		if sf.Desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", ")
	}
	b.WriteString("rowid")
	return b.String()
}

func windowClause(skip, limit int64) string {
	var b strings.Builder
	switch {
	case limit > 0:
		b.WriteString(" LIMIT " + strconv.FormatInt(limit, 10))
	case skip > 0:
		b.WriteString(" LIMIT -1")
	}
	if skip > 0 {
		b.WriteString(" OFFSET " + strconv.FormatInt(skip, 10))
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Body codec
// -----------------------------------------------------------------------------

func encodeBody(doc map[string]any) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document body: %w", err)
	}
	return string(body), nil
}

// decodeBody parses stored JSON back into doctree normal form. Numbers
// decode through json.Number so integers stay int64; version counters
// would otherwise come back as float64 and refuse to increment.
func decodeBody(body string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	canonDoc(doc)
	return doc, nil
}

func canonDoc(m map[string]any) {
	for k, v := range m {
		m[k] = canonValue(v)
	}
}

func canonValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, err := x.Float64()
		if err != nil {
			return string(x)
		}
		return f
	case map[string]any:
		canonDoc(x)
		return x
	case []any:
		for i, item := range x {
			x[i] = canonValue(item)
		}
		return x
	}
	return v
}

func stampNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Ensure interface compliance.
var _ ports.DocumentStore = (*Store)(nil)
