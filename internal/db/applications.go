package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

const applicationColumns = `id, target_url, domain, job, profile_ref, user_hint, status, effort,
	match_score, artifacts, answers, tokens_in, tokens_out, cost_usd, reason, failure_code,
	failure_detail, manual_followup_needed, created_at, started_at, submitted_at, completed_at`

// SaveApplication upserts an application row. Usage columns are only written by AddUsage.
func (db *DB) SaveApplication(ctx context.Context, task *types.ApplicationTask) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	job, err := marshalJSON(task.Job)
	if err != nil {
		return err
	}
	var effort []byte
	if task.Effort != nil {
		if effort, err = marshalJSON(task.Effort); err != nil {
			return err
		}
	}
	artifacts, err := marshalJSON(task.Artifacts)
	if err != nil {
		return err
	}
	answers := task.Answers
	if answers == nil {
		answers = []types.FilledAnswer{}
	}
	answersJSON, err := marshalJSON(answers)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO applications (id, target_url, domain, job, profile_ref, user_hint, status, effort,
			match_score, artifacts, answers, reason, failure_code, failure_detail, manual_followup_needed,
			created_at, started_at, submitted_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
			target_url = EXCLUDED.target_url,
			domain = EXCLUDED.domain,
			job = EXCLUDED.job,
			profile_ref = EXCLUDED.profile_ref,
			user_hint = EXCLUDED.user_hint,
			status = EXCLUDED.status,
			effort = EXCLUDED.effort,
			match_score = EXCLUDED.match_score,
			artifacts = EXCLUDED.artifacts,
			answers = EXCLUDED.answers,
			reason = EXCLUDED.reason,
			failure_code = EXCLUDED.failure_code,
			failure_detail = EXCLUDED.failure_detail,
			manual_followup_needed = EXCLUDED.manual_followup_needed,
			started_at = EXCLUDED.started_at,
			submitted_at = EXCLUDED.submitted_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`,
		task.ID, task.TargetURL, task.Domain, job, task.ProfileRef, string(task.UserHint), string(task.Status), effort,
		task.MatchScore, artifacts, answersJSON, task.Reason, task.FailureCode, task.FailureDetail, task.ManualFollowupNeeded,
		task.CreatedAt, task.StartedAt, task.SubmittedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by ID, or store.ErrNotFound.
func (db *DB) GetApplication(ctx context.Context, id uuid.UUID) (*types.ApplicationTask, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	task, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return task, nil
}

// ListApplications returns applications newest first.
func (db *DB) ListApplications(ctx context.Context, filter store.ApplicationFilter) ([]types.ApplicationTask, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Domain != "" {
		args = append(args, filter.Domain)
		where = append(where, fmt.Sprintf("domain = $%d", len(args)))
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var tasks []types.ApplicationTask
	for rows.Next() {
		task, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanApplication(row pgx.Row) (*types.ApplicationTask, error) {
	var (
		task                          types.ApplicationTask
		hint, status                  string
		job, effort, artifacts, answs []byte
	)
	err := row.Scan(
		&task.ID, &task.TargetURL, &task.Domain, &job, &task.ProfileRef, &hint, &status, &effort,
		&task.MatchScore, &artifacts, &answs, &task.Usage.TokensIn, &task.Usage.TokensOut, &task.Usage.CostUSD,
		&task.Reason, &task.FailureCode, &task.FailureDetail, &task.ManualFollowupNeeded,
		&task.CreatedAt, &task.StartedAt, &task.SubmittedAt, &task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	task.UserHint = types.EffortTier(hint)
	task.Status = types.Status(status)

	if err := unmarshalJSON(job, &task.Job); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(effort, &task.Effort); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(artifacts, &task.Artifacts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(answs, &task.Answers); err != nil {
		return nil, err
	}
	return &task, nil
}

// AddUsage adds to the application's token and cost totals in one statement.
func (db *DB) AddUsage(ctx context.Context, id uuid.UUID, usage types.Usage) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE applications
		 SET tokens_in = tokens_in + $2, tokens_out = tokens_out + $3, cost_usd = cost_usd + $4, updated_at = NOW()
		 WHERE id = $1`,
		id, usage.TokensIn, usage.TokensOut, usage.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordStatusChange appends a status history row.
func (db *DB) RecordStatusChange(ctx context.Context, change types.StatusChange) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO application_status_history (application_id, old_status, new_status, reason, actor, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		change.ApplicationID, string(change.Old), string(change.New), change.Reason, change.Actor, change.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

// ListStatusHistory returns the status history in insertion order.
func (db *DB) ListStatusHistory(ctx context.Context, id uuid.UUID) ([]types.StatusChange, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT application_id, old_status, new_status, reason, actor, changed_at
		 FROM application_status_history WHERE application_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var history []types.StatusChange
	for rows.Next() {
		var (
			c                    types.StatusChange
			oldStatus, newStatus string
		)
		if err := rows.Scan(&c.ApplicationID, &oldStatus, &newStatus, &c.Reason, &c.Actor, &c.At); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		c.Old, c.New = types.Status(oldStatus), types.Status(newStatus)
		history = append(history, c)
	}
	return history, rows.Err()
}

// AppendEvent inserts an event. A duplicate (application, sequence) pair is an error.
func (db *DB) AppendEvent(ctx context.Context, event types.Event) error {
	var payload []byte
	if event.Payload != nil {
		var err error
		if payload, err = marshalJSON(event.Payload); err != nil {
			return err
		}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO application_events (application_id, sequence, event_type, detail, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ApplicationID, event.Sequence, event.Type, event.Detail, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns an application's events ordered by sequence.
func (db *DB) ListEvents(ctx context.Context, id uuid.UUID) ([]types.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT application_id, sequence, event_type, detail, payload, created_at
		 FROM application_events WHERE application_id = $1 ORDER BY sequence`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			e       types.Event
			payload []byte
		)
		if err := rows.Scan(&e.ApplicationID, &e.Sequence, &e.Type, &e.Detail, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := unmarshalJSON(payload, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveQAIssues inserts QA issues in one batch.
func (db *DB) SaveQAIssues(ctx context.Context, id uuid.UUID, issues []types.QAIssue) error {
	if len(issues) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, issue := range issues {
		batch.Queue(
			`INSERT INTO qa_issues (application_id, category, severity, field, detected_value, expected_constraint)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, string(issue.Category), issue.Severity, issue.Field, issue.DetectedValue, issue.ExpectedConstraint,
		)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save QA issues: %w", err)
	}
	return nil
}

// ListQAIssues returns the QA issues recorded for an application.
func (db *DB) ListQAIssues(ctx context.Context, id uuid.UUID) ([]types.QAIssue, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT category, severity, field, detected_value, expected_constraint
		 FROM qa_issues WHERE application_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list QA issues: %w", err)
	}
	defer rows.Close()

	var issues []types.QAIssue
	for rows.Next() {
		var (
			issue    types.QAIssue
			category string
		)
		if err := rows.Scan(&category, &issue.Severity, &issue.Field, &issue.DetectedValue, &issue.ExpectedConstraint); err != nil {
			return nil, fmt.Errorf("failed to scan QA issue: %w", err)
		}
		issue.Category = types.QAIssueCategory(category)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// SaveInterruption appends an interruption snapshot.
func (db *DB) SaveInterruption(ctx context.Context, id uuid.UUID, intr *types.Interruption) error {
	if intr == nil {
		return nil
	}
	var resolution []byte
	if intr.Resolution != nil {
		var err error
		if resolution, err = marshalJSON(intr.Resolution); err != nil {
			return err
		}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO interruptions (application_id, type, captcha_kind, site_key, page_url, screenshot, message,
			attempts, status, solver_type, resolution, reason, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, string(intr.Type), string(intr.CaptchaKind), intr.SiteKey, intr.PageURL, intr.Screenshot, intr.Message,
		intr.Attempts, string(intr.Status), intr.SolverType, resolution, intr.Reason, intr.CreatedAt, intr.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save interruption: %w", err)
	}
	return nil
}

// ListInterruptions returns the interruption records for an application in insertion order.
func (db *DB) ListInterruptions(ctx context.Context, id uuid.UUID) ([]types.Interruption, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT type, captcha_kind, site_key, page_url, screenshot, message, attempts, status,
			solver_type, resolution, reason, created_at, resolved_at
		 FROM interruptions WHERE application_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list interruptions: %w", err)
	}
	defer rows.Close()

	var result []types.Interruption
	for rows.Next() {
		var (
			intr                      types.Interruption
			kind, captchaKind, status string
			resolution                []byte
		)
		err := rows.Scan(&kind, &captchaKind, &intr.SiteKey, &intr.PageURL, &intr.Screenshot, &intr.Message,
			&intr.Attempts, &status, &intr.SolverType, &resolution, &intr.Reason, &intr.CreatedAt, &intr.ResolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interruption: %w", err)
		}
		intr.Type = types.InterruptionType(kind)
		intr.CaptchaKind = types.CaptchaKind(captchaKind)
		intr.Status = types.InterruptionStatus(status)
		if err := unmarshalJSON(resolution, &intr.Resolution); err != nil {
			return nil, err
		}
		result = append(result, intr)
	}
	return result, rows.Err()
}
