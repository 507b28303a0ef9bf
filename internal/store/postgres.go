package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var columns = []string{
	"id", "external_id", "source", "kind", "status", "stage", "failed_stage",
	"stage_attempts", "raw_payload", "parsed_payload", "entity_refs", "log",
	"last_error", "created_at", "updated_at",
}

// Postgres stores each transaction as one row with JSONB columns for the
// payload, refs and log.
type Postgres struct {
	db    *sql.DB
	table string
	psql  sq.StatementBuilderType
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB, table string) *Postgres {
	if table == "" {
		table = "policy_transactions"
	}
	return &Postgres{
		db:    db,
		table: table,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the table and its indexes when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT NOT NULL,
	failed_stage TEXT NOT NULL DEFAULT '',
	stage_attempts INTEGER NOT NULL DEFAULT 0,
	raw_payload JSONB,
	parsed_payload JSONB,
	entity_refs JSONB NOT NULL DEFAULT '{}',
	log JSONB NOT NULL DEFAULT '[]',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, p.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_source_external_id ON %[1]s (source, external_id) WHERE external_id <> ''`, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_status_updated ON %[1]s (status, updated_at)`, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStoreError("ensure schema", err)
		}
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, id string) (*models.Transaction, error) {
	query, args, err := p.psql.Select(columns...).From(p.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	tx, err := scanTransaction(p.db.QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewStoreError("load", err)
	}
	return tx, nil
}

func (p *Postgres) Save(ctx context.Context, tx *models.Transaction) error {
	values, err := rowValues(tx)
	if err != nil {
		return errors.NewInternalError(err)
	}

	query, args, err := p.psql.Insert(p.table).Columns(columns...).Values(values...).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	stage = EXCLUDED.stage,
	failed_stage = EXCLUDED.failed_stage,
	stage_attempts = EXCLUDED.stage_attempts,
	parsed_payload = EXCLUDED.parsed_payload,
	entity_refs = EXCLUDED.entity_refs,
	log = EXCLUDED.log,
	last_error = EXCLUDED.last_error,
	updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return errors.NewInternalError(err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return errors.NewStoreError("save", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	values, err := rowValues(tx)
	if err != nil {
		return nil, false, errors.NewInternalError(err)
	}

	query, args, err := p.psql.Insert(p.table).Columns(columns...).Values(values...).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return nil, false, errors.NewInternalError(err)
	}

	var id string
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return tx, true, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, errors.NewStoreError("create", err)
	}

	// Conflict: either the id or (source, external_id) already exists.
	if tx.ExternalID != "" {
		found, err := p.Search(ctx, Filter{Source: tx.Source, ExternalID: tx.ExternalID, Limit: 1})
		if err != nil {
			return nil, false, err
		}
		if len(found) == 1 {
			return found[0], false, nil
		}
	}
	existing, err := p.Load(ctx, tx.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (p *Postgres) Search(ctx context.Context, f Filter) ([]*models.Transaction, error) {
	q := p.psql.Select(columns...).From(p.table)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if len(f.Stages) > 0 {
		stages := make([]string, len(f.Stages))
		for i, s := range f.Stages {
			stages[i] = string(s)
		}
		q = q.Where(sq.Eq{"stage": stages})
	}
	if f.Source != "" {
		q = q.Where(sq.Eq{"source": f.Source})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.ExternalID != "" {
		q = q.Where(sq.Eq{"external_id": f.ExternalID})
	}
	if !f.UpdatedBefore.IsZero() {
		q = q.Where(sq.Lt{"updated_at": f.UpdatedBefore})
	}
	q = q.OrderBy("updated_at ASC", "id ASC").Limit(uint64(f.limit()))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStoreError("search", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.NewStoreError("search", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("search", err)
	}
	return out, nil
}

func rowValues(tx *models.Transaction) ([]interface{}, error) {
	var parsed []byte
	if tx.Payload != nil {
		b, err := json.Marshal(tx.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		parsed = b
	}
	refs, err := json.Marshal(tx.Refs)
	if err != nil {
		return nil, fmt.Errorf("encode refs: %w", err)
	}
	logEntries := tx.Log
	if logEntries == nil {
		logEntries = []models.LogEntry{}
	}
	log, err := json.Marshal(logEntries)
	if err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}

	var raw []byte
	if len(tx.RawPayload) > 0 {
		raw = []byte(tx.RawPayload)
	}

	return []interface{}{
		tx.ID, tx.ExternalID, tx.Source, string(tx.Kind), string(tx.Status), string(tx.Stage),
		string(tx.FailedStage), tx.StageAttempts, raw, parsed, refs, log,
		tx.LastError, tx.CreatedAt, tx.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx                               models.Transaction
		kind, status, stage, failedStage string
		raw, parsed, refs, log           []byte
	)
	err := row.Scan(
		&tx.ID, &tx.ExternalID, &tx.Source, &kind, &status, &stage, &failedStage,
		&tx.StageAttempts, &raw, &parsed, &refs, &log,
		&tx.LastError, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Kind = models.Kind(kind)
	tx.Status = models.Status(status)
	tx.Stage = models.Stage(stage)
	tx.FailedStage = models.Stage(failedStage)
	if len(raw) > 0 {
		tx.RawPayload = append([]byte(nil), raw...)
	}
	if len(parsed) > 0 {
		var p models.Payload
		if err := json.Unmarshal(parsed, &p); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", tx.ID, err)
		}
		tx.Payload = &p
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &tx.Refs); err != nil {
			return nil, fmt.Errorf("decode refs of %s: %w", tx.ID, err)
		}
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &tx.Log); err != nil {
			return nil, fmt.Errorf("decode log of %s: %w", tx.ID, err)
		}
	}
	return &tx, nil
}
