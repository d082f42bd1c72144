package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/store"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

const applicationColumns = `id, target_url, domain, job, profile_ref, user_hint, status, effort,
	match_score, artifacts, answers, tokens_in, tokens_out, cost_usd, reason, failure_code,
	failure_detail, manual_followup_needed, created_at, started_at, submitted_at, completed_at`

// SaveApplication upserts an application row. Usage columns are only written by AddUsage.
func (s *Store) SaveApplication(ctx context.Context, task *types.ApplicationTask) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	job, err := toJSON(task.Job)
	if err != nil {
		return err
	}
	var effort sql.NullString
	if task.Effort != nil {
		data, err := toJSON(task.Effort)
		if err != nil {
			return err
		}
		effort = nullString(data, true)
	}
	artifacts, err := toJSON(task.Artifacts)
	if err != nil {
		return err
	}
	answers := task.Answers
	if answers == nil {
		answers = []types.FilledAnswer{}
	}
	answersJSON, err := toJSON(answers)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (id, target_url, domain, job, profile_ref, user_hint, status, effort,
			match_score, artifacts, answers, reason, failure_code, failure_detail, manual_followup_needed,
			created_at, started_at, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			target_url = excluded.target_url,
			domain = excluded.domain,
			job = excluded.job,
			profile_ref = excluded.profile_ref,
			user_hint = excluded.user_hint,
			status = excluded.status,
			effort = excluded.effort,
			match_score = excluded.match_score,
			artifacts = excluded.artifacts,
			answers = excluded.answers,
			reason = excluded.reason,
			failure_code = excluded.failure_code,
			failure_detail = excluded.failure_detail,
			manual_followup_needed = excluded.manual_followup_needed,
			started_at = excluded.started_at,
			submitted_at = excluded.submitted_at,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP`,
		task.ID.String(), task.TargetURL, task.Domain, job, task.ProfileRef, string(task.UserHint), string(task.Status), effort,
		task.MatchScore, artifacts, answersJSON, task.Reason, task.FailureCode, task.FailureDetail, task.ManualFollowupNeeded,
		formatTime(task.CreatedAt), formatTimePtr(task.StartedAt), formatTimePtr(task.SubmittedAt), formatTimePtr(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by ID, or store.ErrNotFound.
func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (*types.ApplicationTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id.String())
	task, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return task, nil
}

// ListApplications returns applications newest first.
func (s *Store) ListApplications(ctx context.Context, filter store.ApplicationFilter) ([]types.ApplicationTask, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, filter.Domain)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func scanApplication(row scanner) (*types.ApplicationTask, error) {
	var (
		task                         types.ApplicationTask
		hint, status, created        string
		job, artifacts, answers      string
		effort                       sql.NullString
		started, submitted, complete sql.NullString
	)
	err := row.Scan(
		&task.ID, &task.TargetURL, &task.Domain, &job, &task.ProfileRef, &hint, &status, &effort,
		&task.MatchScore, &artifacts, &answers, &task.Usage.TokensIn, &task.Usage.TokensOut, &task.Usage.CostUSD,
		&task.Reason, &task.FailureCode, &task.FailureDetail, &task.ManualFollowupNeeded,
		&created, &started, &submitted, &complete,
	)
	if err != nil {
		return nil, err
	}
	task.UserHint = types.EffortTier(hint)
	task.Status = types.Status(status)

	if err := fromJSON(nullString(job, true), &task.Job); err != nil {
		return nil, err
	}
	if err := fromJSON(effort, &task.Effort); err != nil {
		return nil, err
	}
	if err := fromJSON(nullString(artifacts, true), &task.Artifacts); err != nil {
		return nil, err
	}
	if err := fromJSON(nullString(answers, true), &task.Answers); err != nil {
		return nil, err
	}

	if task.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if task.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if task.SubmittedAt, err = parseTimePtr(submitted); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseTimePtr(complete); err != nil {
		return nil, err
	}
	return &task, nil
}

// AddUsage adds to the application's token and cost totals in one statement.
func (s *Store) AddUsage(ctx context.Context, id uuid.UUID, usage types.Usage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET tokens_in = tokens_in + ?, tokens_out = tokens_out + ?, cost_usd = cost_usd + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		usage.TokensIn, usage.TokensOut, usage.CostUSD, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordStatusChange appends a status history row.
func (s *Store) RecordStatusChange(ctx context.Context, change types.StatusChange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_status_history (application_id, old_status, new_status, reason, actor, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		change.ApplicationID.String(), string(change.Old), string(change.New), change.Reason, change.Actor, formatTime(change.At),
	)
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

// ListStatusHistory returns the status history in insertion order.
func (s *Store) ListStatusHistory(ctx context.Context, id uuid.UUID) ([]types.StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT application_id, old_status, new_status, reason, actor, changed_at
		FROM application_status_history WHERE application_id = ? ORDER BY id`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []types.StatusChange
	for rows.Next() {
		var (
			c                        types.StatusChange
			oldStatus, newStatus, at string
		)
		if err := rows.Scan(&c.ApplicationID, &oldStatus, &newStatus, &c.Reason, &c.Actor, &at); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		c.Old, c.New = types.Status(oldStatus), types.Status(newStatus)
		if c.At, err = parseTime(at); err != nil {
			return nil, err
		}
		history = append(history, c)
	}
	return history, rows.Err()
}

// AppendEvent inserts an event. A duplicate (application, sequence) pair is an error.
func (s *Store) AppendEvent(ctx context.Context, event types.Event) error {
	var payload sql.NullString
	if event.Payload != nil {
		data, err := toJSON(event.Payload)
		if err != nil {
			return err
		}
		payload = nullString(data, true)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_events (application_id, sequence, event_type, detail, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ApplicationID.String(), event.Sequence, event.Type, event.Detail, payload, formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns an application's events ordered by sequence.
func (s *Store) ListEvents(ctx context.Context, id uuid.UUID) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT application_id, sequence, event_type, detail, payload, created_at
		FROM application_events WHERE application_id = ? ORDER BY sequence`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.Event
	for rows.Next() {
		var (
			e       types.Event
			payload sql.NullString
			created string
		)
		if err := rows.Scan(&e.ApplicationID, &e.Sequence, &e.Type, &e.Detail, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := fromJSON(payload, &e.Payload); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveQAIssues inserts QA issues in one transaction.
func (s *Store) SaveQAIssues(ctx context.Context, id uuid.UUID, issues []types.QAIssue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, issue := range issues {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO qa_issues (application_id, category, severity, field, detected_value, expected_constraint)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), string(issue.Category), issue.Severity, issue.Field, issue.DetectedValue, issue.ExpectedConstraint,
		)
		if err != nil {
			return fmt.Errorf("failed to save QA issue: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit QA issues: %w", err)
	}
	committed = true
	return nil
}

// ListQAIssues returns the QA issues recorded for an application.
func (s *Store) ListQAIssues(ctx context.Context, id uuid.UUID) ([]types.QAIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, severity, field, detected_value, expected_constraint
		FROM qa_issues WHERE application_id = ? ORDER BY id`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list QA issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *Store) SaveInterruption(ctx context.Context, id uuid.UUID, intr *types.Interruption) error {
	if intr == nil {
		return nil
	}
	var resolution sql.NullString
	if intr.Resolution != nil {
		data, err := toJSON(intr.Resolution)
		if err != nil {
			return err
		}
		resolution = nullString(data, true)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interruptions (application_id, type, captcha_kind, site_key, page_url, screenshot, message,
			attempts, status, solver_type, resolution, reason, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), string(intr.Type), string(intr.CaptchaKind), intr.SiteKey, intr.PageURL, intr.Screenshot, intr.Message,
		intr.Attempts, string(intr.Status), intr.SolverType, resolution, intr.Reason, formatTime(intr.CreatedAt), formatTimePtr(intr.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save interruption: %w", err)
	}
	return nil
}

// ListInterruptions returns the interruption records for an application in insertion order.
func (s *Store) ListInterruptions(ctx context.Context, id uuid.UUID) ([]types.Interruption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, captcha_kind, site_key, page_url, screenshot, message, attempts, status,
			solver_type, resolution, reason, created_at, resolved_at
		FROM interruptions WHERE application_id = ? ORDER BY id`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list interruptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []types.Interruption
	for rows.Next() {
		var (
			intr                               types.Interruption
			kind, captchaKind, status, created string
			resolution, resolved               sql.NullString
		)
		err := rows.Scan(&kind, &captchaKind, &intr.SiteKey, &intr.PageURL, &intr.Screenshot, &intr.Message,
			&intr.Attempts, &status, &intr.SolverType, &resolution, &intr.Reason, &created, &resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interruption: %w", err)
		}
		intr.Type = types.InterruptionType(kind)
		intr.CaptchaKind = types.CaptchaKind(captchaKind)
		intr.Status = types.InterruptionStatus(status)
		if err := fromJSON(resolution, &intr.Resolution); err != nil {
			return nil, err
		}
		if intr.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if intr.ResolvedAt, err = parseTimePtr(resolved); err != nil {
			return nil, err
		}
		result = append(result, intr)
	}
	return result, rows.Err()
}
