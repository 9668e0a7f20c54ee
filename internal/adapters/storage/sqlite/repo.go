package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanschultz/poa/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// defaultEventLimit caps change-event listings when callers pass no limit.
const defaultEventLimit = 50

// Repository stores requests, their actors, and the change-event ledger.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and migrates it.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)
	return newRepository(db)
}

// newRepository migrates db and wraps it.
func newRepository(db *sql.DB) (*Repository, error) {
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate creates the schema.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			deadline TEXT NOT NULL,
			minimum_approvals INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			finalized_at TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_seq ON requests(seq);`,
		`CREATE TABLE IF NOT EXISTS request_actors (
			request_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			address TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			has_approved INTEGER NOT NULL DEFAULT 0,
			approved_at TEXT,
			PRIMARY KEY(request_id, address),
			FOREIGN KEY(request_id) REFERENCES requests(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_request ON change_events(request_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// SaveRequest upserts a request with its actors and appends events in one transaction.
func (r *Repository) SaveRequest(ctx context.Context, req domain.Request, events ...domain.ChangeEvent) (err error) {
	if strings.TrimSpace(req.ID) == "" {
		return domain.ErrInvalidID
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = upsertRequest(ctx, tx, req); err != nil {
		return err
	}
	for _, ev := range events {
		if err = insertChangeEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// ReplaceAll drops every request and event and stores reqs in order.
func (r *Repository) ReplaceAll(ctx context.Context, reqs []domain.Request, events ...domain.ChangeEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM change_events`,
		`DELETE FROM request_actors`,
		`DELETE FROM requests`,
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, req := range reqs {
		if err = upsertRequest(ctx, tx, req); err != nil {
			return err
		}
	}
	for _, ev := range events {
		if err = insertChangeEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// ListRequests returns every request in insertion order.
func (r *Repository) ListRequests(ctx context.Context) ([]domain.Request, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, description, deadline, minimum_approvals, created_at, created_by, status, tx_hash, finalized_at
		FROM requests
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Request, 0)
	index := map[string]int{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		index[req.ID] = len(out)
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	actorRows, err := r.db.QueryContext(ctx, `
		SELECT request_id, address, label, has_approved, approved_at
		FROM request_actors
		ORDER BY request_id ASC, position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer actorRows.Close()
	for actorRows.Next() {
		var (
			requestID   string
			actor       domain.Actor
			approved    int
			approvedRaw sql.NullString
		)
		if err := actorRows.Scan(&requestID, &actor.Address, &actor.Label, &approved, &approvedRaw); err != nil {
			return nil, err
		}
		actor.HasApproved = approved != 0
		actor.ApprovedAt = parseNullTS(approvedRaw)
		i, ok := index[requestID]
		if !ok {
			continue
		}
		out[i].Actors = append(out[i].Actors, actor)
	}
	return out, actorRows.Err()
}

// ListChangeEvents returns the newest events for a request, newest first.
func (r *Repository) ListChangeEvents(ctx context.Context, requestID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, operation, status, actor, metadata_json, created_at
		FROM change_events
		WHERE request_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			statusRaw   string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.RequestID, &opRaw, &statusRaw, &event.Actor, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(opRaw)
		event.Status = domain.NormalizeStatus(domain.Status(statusRaw))
		event.OccurredAt = parseTS(createdRaw)
		if event.Metadata, err = decodeMetadata(metadataRaw); err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// LatestSettlement returns the identifier of the most recent finalization, or "".
func (r *Repository) LatestSettlement(ctx context.Context) (string, error) {
	var metadataRaw string
	err := r.db.QueryRowContext(ctx, `
		SELECT metadata_json
		FROM change_events
		WHERE operation = ?
		ORDER BY id DESC
		LIMIT 1
	`, string(domain.ChangeOperationFinalize)).Scan(&metadataRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	meta, err := decodeMetadata(metadataRaw)
	if err != nil {
		return "", err
	}
	return meta["tx_hash"], nil
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// upsertRequest writes the request row and its actor rows.
func upsertRequest(ctx context.Context, execer execerContext, req domain.Request) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO requests(id, seq, title, description, deadline, minimum_approvals, created_at, created_by, status, tx_hash, finalized_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM requests), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tx_hash = excluded.tx_hash,
			finalized_at = excluded.finalized_at
	`,
		req.ID,
		req.Title,
		req.Description,
		ts(req.Deadline),
		req.MinimumApprovals,
		ts(req.CreatedAt),
		req.CreatedBy,
		string(req.Status),
		req.TxHash,
		nullableTS(req.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert request: %w", err)
	}
	for i, actor := range req.Actors {
		_, err := execer.ExecContext(ctx, `
			INSERT INTO request_actors(request_id, position, address, label, has_approved, approved_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(request_id, address) DO UPDATE SET
				has_approved = excluded.has_approved,
				approved_at = excluded.approved_at
		`,
			req.ID,
			i,
			actor.Address,
			actor.Label,
			boolToInt(actor.HasApproved),
			nullableTS(actor.ApprovedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert request actor: %w", err)
		}
	}
	return nil
}

// insertChangeEvent inserts a change-event ledger record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(request_id, operation, status, actor, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.RequestID,
		string(event.Operation),
		string(event.Status),
		event.Actor,
		string(metadataJSON),
		ts(occurred),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanRequest decodes one requests row without actors.
func scanRequest(s scanner) (domain.Request, error) {
	var (
		req          domain.Request
		deadlineRaw  string
		createdRaw   string
		statusRaw    string
		finalizedRaw sql.NullString
	)
	if err := s.Scan(&req.ID, &req.Title, &req.Description, &deadlineRaw, &req.MinimumApprovals, &createdRaw, &req.CreatedBy, &statusRaw, &req.TxHash, &finalizedRaw); err != nil {
		return domain.Request{}, err
	}
	req.Deadline = parseTS(deadlineRaw)
	req.CreatedAt = parseTS(createdRaw)
	req.Status = domain.NormalizeStatus(domain.Status(statusRaw))
	req.FinalizedAt = parseNullTS(finalizedRaw)
	return req, nil
}

// decodeMetadata parses a metadata_json column.
func decodeMetadata(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	return meta, nil
}

// boolToInt maps a bool to a sqlite integer.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}
