// Package sqldoc stores records as JSON documents in a single SQL table and
// applies each batch in one database transaction. It works with the pure-Go
// SQLite driver and with Postgres through pgx.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/internal/cluster"
	"github.com/jacentio/lattice/record"
)

var (
	// ErrInvalidTable is returned when Config.Table is not a plain SQL identifier.
	ErrInvalidTable = errors.New("lattice: invalid table name")

	// ErrClassMismatch is returned when a statement addresses a record through
	// the wrong storage class.
	ErrClassMismatch = errors.New("lattice: record belongs to another class")
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Transport implements batch.Transport, batch.AtomicScripter and batch.Finder
// over database/sql.
type Transport struct {
	db     *sql.DB
	config Config
}

// Open opens the database described by cfg and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Transport, error) {
	cfg.validate()
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite && strings.Contains(cfg.DSN, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	t, err := New(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

// New wraps an open database and ensures the schema exists.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Transport, error) {
	cfg.validate()
	if !identifier.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, cfg.Table)
	}
	t := &Transport{db: db, config: cfg}
	if err := t.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// DB exposes the underlying sql.DB.
func (t *Transport) DB() *sql.DB { return t.db }

// Close closes the database.
func (t *Transport) Close() error { return t.db.Close() }

// SupportsAtomicBatch implements batch.AtomicScripter.
func (t *Transport) SupportsAtomicBatch() bool {
	return true
}

func (t *Transport) clustersTable() string {
	return t.config.Table + "_clusters"
}

func (t *Transport) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + t.config.Table + ` (
			rid TEXT PRIMARY KEY,
			class TEXT NOT NULL,
			version BIGINT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.clustersTable() + ` (
			id BIGINT PRIMARY KEY,
			seq BIGINT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// bind rewrites '?' placeholders into the driver's positional form.
func (t *Transport) bind(query string) string {
	if t.config.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Submit implements batch.Transport. The batch runs in one transaction that
// is rolled back on the first failing statement.
func (t *Transport) Submit(ctx context.Context, b *batch.Batch) (results []record.Document, retErr error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	resolver := batch.NewResolver()
	results = make([]record.Document, b.Insertions())

	for i, st := range b.Statements {
		fields, err := resolveFields(resolver, st.Fields)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		switch st.Kind {
		case batch.Insert:
			rid, err := t.nextRID(ctx, tx, st.Class)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			if err := t.insert(ctx, tx, rid, st.Class, fields); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			resolver.Bind(batch.Placeholder(st.Position), rid)
			results[st.Position] = record.Document{
				record.KeyRID:     rid,
				record.KeyClass:   st.Class,
				record.KeyVersion: int64(1),
			}

		case batch.Update:
			rid, err := resolver.Target(st.Target)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			if err := t.update(ctx, tx, rid, st.Class, fields); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}

		case batch.Delete:
			if err := t.delete(ctx, tx, st.Target.RID, st.Class); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return results, nil
}

func (t *Transport) nextRID(ctx context.Context, tx *sql.Tx, class string) (record.RID, error) {
	id := cluster.ID(class, t.config.Clusters)
	query := t.bind(`INSERT INTO ` + t.clustersTable() + ` (id, seq) VALUES (?, 1)
		ON CONFLICT (id) DO UPDATE SET seq = ` + t.clustersTable() + `.seq + 1
		RETURNING seq`)
	var seq int64
	if err := tx.QueryRowContext(ctx, query, id).Scan(&seq); err != nil {
		return "", fmt.Errorf("allocate record id: %w", err)
	}
	return record.NewRID(id, seq-1), nil
}

func (t *Transport) insert(ctx context.Context, tx *sql.Tx, rid record.RID, class string, fields record.Document) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", class, err)
	}
	query := t.bind(`INSERT INTO ` + t.config.Table + ` (rid, class, version, doc) VALUES (?, ?, 1, ?)`)
	if _, err := tx.ExecContext(ctx, query, rid.String(), class, string(data)); err != nil {
		return fmt.Errorf("insert %s: %w", class, err)
	}
	return nil
}

func (t *Transport) update(ctx context.Context, tx *sql.Tx, rid record.RID, class string, fields record.Document) error {
	current, version, err := t.read(ctx, tx, rid, "")
	if err != nil {
		return err
	}
	if current.Class() != class {
		return fmt.Errorf("%w: %s is %s, not %s", ErrClassMismatch, rid, current.Class(), class)
	}
	doc := current.Fields()
	for k, v := range fields {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", class, err)
	}
	query := t.bind(`UPDATE ` + t.config.Table + ` SET version = ?, doc = ? WHERE rid = ?`)
	if _, err := tx.ExecContext(ctx, query, version+1, string(data), rid.String()); err != nil {
		return fmt.Errorf("update %s: %w", rid, err)
	}
	return nil
}

func (t *Transport) delete(ctx context.Context, tx *sql.Tx, rid record.RID, class string) error {
	query := t.bind(`DELETE FROM ` + t.config.Table + ` WHERE rid = ? AND class = ?`)
	res, err := tx.ExecContext(ctx, query, rid.String(), class)
	if err != nil {
		return fmt.Errorf("delete %s: %w", rid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", rid, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (t *Transport) read(ctx context.Context, q querier, rid record.RID, class string) (record.Document, int64, error) {
	query := `SELECT class, version, doc FROM ` + t.config.Table + ` WHERE rid = ?`
	args := []any{rid.String()}
	if class != "" {
		query += ` AND class = ?`
		args = append(args, class)
	}
	var (
		stored  string
		version int64
		data    string
	)
	err := q.QueryRowContext(ctx, t.bind(query), args...).Scan(&stored, &version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("select %s: %w", rid, err)
	}
	var doc record.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", rid, err)
	}
	if doc == nil {
		doc = record.Document{}
	}
	doc[record.KeyRID] = rid
	doc[record.KeyClass] = stored
	doc[record.KeyVersion] = version
	return doc, version, nil
}

// Load implements batch.Finder.
func (t *Transport) Load(ctx context.Context, class string, rid record.RID) (record.Document, error) {
	doc, _, err := t.read(ctx, t.db, rid, class)
	return doc, err
}

func resolveFields(r *batch.Resolver, fields []batch.Assignment) (record.Document, error) {
	doc := make(record.Document, len(fields))
	for _, f := range fields {
		v, err := r.Value(f.Value)
		if err != nil {
			return nil, err
		}
		doc[f.Name] = v
	}
	return doc, nil
}
