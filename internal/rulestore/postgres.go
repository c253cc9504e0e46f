package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/metrics"
)

const uniqueViolation = "23505"

// RuleRecord is one stored rule. Conditions and Target use the same shape
// as a rule document entry.
type RuleRecord struct {
	ID          string         `json:"id"`
	Position    int            `json:"position"`
	Description string         `json:"description,omitempty"`
	Conditions  map[string]any `json:"conditions"`
	Target      any            `json:"target"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Document returns the record as a rule document entry for rules.Decode.
func (r RuleRecord) Document() map[string]any {
	doc := map[string]any{
		"id":     r.ID,
		"target": r.Target,
	}
	if r.Description != "" {
		doc["description"] = r.Description
	}
	if r.Conditions != nil {
		doc["conditions"] = r.Conditions
	}
	return doc
}

// PostgresRepository keeps rules in the firmware_rules table, evaluated in
// position order.
type PostgresRepository struct {
	db       *sql.DB
	compiler rules.PredicateCompiler
}

func NewPostgresRepository(db *sql.DB, compiler rules.PredicateCompiler) *PostgresRepository {
	return &PostgresRepository{db: db, compiler: compiler}
}

func (r *PostgresRepository) Source() string {
	return "postgres"
}

func (r *PostgresRepository) GetRuleSet(ctx context.Context) (rules.RuleSet, error) {
	records, err := r.list(ctx, true)
	if err != nil {
		return nil, err
	}

	docs := make([]any, len(records))
	for i, rec := range records {
		docs[i] = rec.Document()
	}
	return rules.Decode(docs, r.compiler)
}

func (r *PostgresRepository) ListRules(ctx context.Context) ([]RuleRecord, error) {
	return r.list(ctx, false)
}

func (r *PostgresRepository) list(ctx context.Context, enabledOnly bool) ([]RuleRecord, error) {
	query := `
		SELECT id, position, description, conditions, target, enabled, created_at, updated_at
		FROM firmware_rules
	`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY position ASC, created_at ASC`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query)
	r.observe("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var records []RuleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, id string) (*RuleRecord, error) {
	query := `
		SELECT id, position, description, conditions, target, enabled, created_at, updated_at
		FROM firmware_rules
		WHERE id = $1
	`

	start := time.Now()
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		r.observe("get", start, nil)
		return nil, apperrors.ErrNotFound.WithMessage("rule %s not found", id)
	}
	r.observe("get", start, err)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rec *RuleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	conditions, target, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO firmware_rules (id, position, description, conditions, target, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	start := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Position, rec.Description, conditions, target,
		rec.Enabled, rec.CreatedAt, rec.UpdatedAt,
	)
	r.observe("create", start, err)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.ErrConflict.WithCause(err).WithMessage("rule with id '%s' already exists", rec.ID)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, rec *RuleRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	conditions, target, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE firmware_rules
		SET position = $1, description = $2, conditions = $3, target = $4, enabled = $5, updated_at = $6
		WHERE id = $7
	`

	start := time.Now()
	res, err := r.db.ExecContext(ctx, query,
		rec.Position, rec.Description, conditions, target, rec.Enabled, rec.UpdatedAt, rec.ID,
	)
	r.observe("update", start, err)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return expectOneRow(res, rec.ID)
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, id string) error {
	start := time.Now()
	res, err := r.db.ExecContext(ctx, `DELETE FROM firmware_rules WHERE id = $1`, id)
	r.observe("delete", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return expectOneRow(res, id)
}

func (r *PostgresRepository) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("rulestore", "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration("rulestore", "postgres", operation, time.Since(start))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (RuleRecord, error) {
	var (
		rec        RuleRecord
		conditions []byte
		target     []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Position, &rec.Description, &conditions, &target,
		&rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RuleRecord{}, err
		}
		return RuleRecord{}, fmt.Errorf("failed to scan rule: %w", err)
	}

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rec.Conditions); err != nil {
			return RuleRecord{}, apperrors.ErrConfiguration.WithMessage("rule %s: invalid conditions: %v", rec.ID, err)
		}
	}
	if len(target) > 0 {
		if err := json.Unmarshal(target, &rec.Target); err != nil {
			return RuleRecord{}, apperrors.ErrConfiguration.WithMessage("rule %s: invalid target: %v", rec.ID, err)
		}
	}

	return rec, nil
}

// encodeRecord returns the JSONB column values as text; nil stays SQL NULL.
// lib/pq would send []byte as bytea, which jsonb rejects.
func encodeRecord(rec *RuleRecord) (conditions, target sql.NullString, err error) {
	if rec.Conditions != nil {
		data, err := json.Marshal(rec.Conditions)
		if err != nil {
			return conditions, target, apperrors.ErrValidation.WithMessage("invalid conditions: %v", err)
		}
		conditions = sql.NullString{String: string(data), Valid: true}
	}
	if rec.Target != nil {
		data, err := json.Marshal(rec.Target)
		if err != nil {
			return conditions, target, apperrors.ErrValidation.WithMessage("invalid target: %v", err)
		}
		target = sql.NullString{String: string(data), Valid: true}
	}
	return conditions, target, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrNotFound.WithMessage("rule %s not found", id)
	}
	return nil
}
