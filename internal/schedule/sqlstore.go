package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/db"
	"github.com/agentplane/agentplane/internal/db/dialect"
)

// SQLRepository implements Repository on the shared db.Pool.
type SQLRepository struct {
	pool   *db.Pool
	driver string
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates the schedule store and ensures its schema.
func NewSQLRepository(pool *db.Pool, driver string) (*SQLRepository, error) {
	r := &SQLRepository{pool: pool, driver: driver}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schedule schema: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		name TEXT NOT NULL,
		cron_expression TEXT NOT NULL,
		message TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		timeout_seconds INTEGER NOT NULL DEFAULT 900,
		allowed_tools TEXT DEFAULT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		last_run_at TIMESTAMP DEFAULT NULL,
		next_run_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP DEFAULT NULL,
		duration_ms INTEGER DEFAULT NULL,
		message TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		error TEXT DEFAULT NULL,
		triggered_by TEXT NOT NULL DEFAULT 'schedule',
		context_used INTEGER NOT NULL DEFAULT 0,
		context_max INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		tool_calls TEXT NOT NULL DEFAULT '',
		execution_log TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_agent ON schedules(agent_name);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_executions_schedule ON executions(schedule_id, started_at);
	`
	_, err := r.pool.Writer().Exec(schema)
	return err
}

func (r *SQLRepository) CreateSchedule(ctx context.Context, s *Schedule) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	tools, err := marshalTools(s.AllowedTools)
	if err != nil {
		return err
	}
	query := r.pool.Writer().Rebind(`
		INSERT INTO schedules (id, agent_name, name, cron_expression, message, enabled, timezone,
			timeout_seconds, allowed_tools, owner_id, created_at, updated_at, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.pool.Writer().ExecContext(ctx, query,
		s.ID, s.AgentName, s.Name, s.CronExpression, s.Message, dialect.BoolToInt(s.Enabled),
		s.Timezone, s.TimeoutSeconds, tools, s.OwnerID, s.CreatedAt, s.UpdatedAt, s.LastRunAt, s.NextRunAt)
	return err
}

const scheduleColumns = `id, agent_name, name, cron_expression, message, enabled, timezone,
	timeout_seconds, allowed_tools, owner_id, created_at, updated_at, last_run_at, next_run_at`

func (r *SQLRepository) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var row scheduleRow
	query := r.pool.Reader().Rebind(`SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toSchedule()
}

func (r *SQLRepository) ListSchedules(ctx context.Context, agentName string) ([]*Schedule, error) {
	var rows []scheduleRow
	query := r.pool.Reader().Rebind(`SELECT ` + scheduleColumns + ` FROM schedules WHERE agent_name = ? ORDER BY created_at`)
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, agentName); err != nil {
		return nil, err
	}
	return rowsToSchedules(rows)
}

func (r *SQLRepository) ListEnabledSchedules(ctx context.Context) ([]*Schedule, error) {
	var rows []scheduleRow
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE enabled = 1 ORDER BY created_at`
	if err := r.pool.Reader().SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rowsToSchedules(rows)
}

func (r *SQLRepository) UpdateSchedule(ctx context.Context, s *Schedule) error {
	s.UpdatedAt = time.Now().UTC()
	tools, err := marshalTools(s.AllowedTools)
	if err != nil {
		return err
	}
	query := r.pool.Writer().Rebind(`
		UPDATE schedules
		SET name = ?, cron_expression = ?, message = ?, enabled = ?, timezone = ?,
			timeout_seconds = ?, allowed_tools = ?, updated_at = ?, next_run_at = ?
		WHERE id = ?
	`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		s.Name, s.CronExpression, s.Message, dialect.BoolToInt(s.Enabled), s.Timezone,
		s.TimeoutSeconds, tools, s.UpdatedAt, s.NextRunAt, s.ID)
	if err != nil {
		return err
	}
	return requireRow(res, s.ID)
}

func (r *SQLRepository) DeleteSchedule(ctx context.Context, id string) error {
	query := r.pool.Writer().Rebind(`DELETE FROM schedules WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (r *SQLRepository) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	query := r.pool.Writer().Rebind(`
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?
	`)
	res, err := r.pool.Writer().ExecContext(ctx, query, lastRunAt, nextRunAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (r *SQLRepository) CreateExecution(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	query := r.pool.Writer().Rebind(`
		INSERT INTO executions (id, schedule_id, agent_name, status, started_at, completed_at,
			duration_ms, message, response, error, triggered_by, context_used, context_max,
			cost, tool_calls, execution_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		e.ID, e.ScheduleID, e.AgentName, string(e.Status), e.StartedAt, e.CompletedAt,
		e.DurationMS, e.Message, e.Response, e.Error, string(e.TriggeredBy),
		e.ContextUsed, e.ContextMax, e.Cost, e.ToolCalls, e.ExecutionLog)
	return err
}

const executionColumns = `id, schedule_id, agent_name, status, started_at, completed_at,
	duration_ms, message, response, error, triggered_by, context_used, context_max,
	cost, tool_calls, execution_log`

func (r *SQLRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var row executionRow
	query := r.pool.Reader().Rebind(`SELECT ` + executionColumns + ` FROM executions WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toExecution(), nil
}

func (r *SQLRepository) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []executionRow
	query := r.pool.Reader().Rebind(`
		SELECT ` + executionColumns + ` FROM executions
		WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?
	`)
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, scheduleID, limit); err != nil {
		return nil, err
	}
	executions := make([]*Execution, 0, len(rows))
	for i := range rows {
		executions = append(executions, rows[i].toExecution())
	}
	return executions, nil
}

func (r *SQLRepository) UpdateExecution(ctx context.Context, e *Execution) error {
	query := r.pool.Writer().Rebind(`
		UPDATE executions
		SET status = ?, completed_at = ?, duration_ms = ?, response = ?, error = ?,
			context_used = ?, context_max = ?, cost = ?, tool_calls = ?, execution_log = ?
		WHERE id = ?
	`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		string(e.Status), e.CompletedAt, e.DurationMS, e.Response, e.Error,
		e.ContextUsed, e.ContextMax, e.Cost, e.ToolCalls, e.ExecutionLog, e.ID)
	if err != nil {
		return err
	}
	return requireRow(res, e.ID)
}

func requireRow(res sql.Result, id string) error {
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func marshalTools(tools *[]string) (sql.NullString, error) {
	if tools == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(*tools)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to serialize allowed_tools: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type scheduleRow struct {
	ID             string         `db:"id"`
	AgentName      string         `db:"agent_name"`
	Name           string         `db:"name"`
	CronExpression string         `db:"cron_expression"`
	Message        string         `db:"message"`
	Enabled        int            `db:"enabled"`
	Timezone       string         `db:"timezone"`
	TimeoutSeconds int            `db:"timeout_seconds"`
	AllowedTools   sql.NullString `db:"allowed_tools"`
	OwnerID        string         `db:"owner_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	LastRunAt      *time.Time     `db:"last_run_at"`
	NextRunAt      *time.Time     `db:"next_run_at"`
}

func (row *scheduleRow) toSchedule() (*Schedule, error) {
	s := &Schedule{
		ID:             row.ID,
		AgentName:      row.AgentName,
		Name:           row.Name,
		CronExpression: row.CronExpression,
		Message:        row.Message,
		Enabled:        row.Enabled == 1,
		Timezone:       row.Timezone,
		TimeoutSeconds: row.TimeoutSeconds,
		OwnerID:        row.OwnerID,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		LastRunAt:      row.LastRunAt,
		NextRunAt:      row.NextRunAt,
	}
	if row.AllowedTools.Valid {
		var tools []string
		if err := json.Unmarshal([]byte(row.AllowedTools.String), &tools); err != nil {
			return nil, fmt.Errorf("failed to parse allowed_tools for schedule %s: %w", row.ID, err)
		}
		if tools == nil {
			tools = []string{}
		}
		s.AllowedTools = &tools
	}
	return s, nil
}

func rowsToSchedules(rows []scheduleRow) ([]*Schedule, error) {
	schedules := make([]*Schedule, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toSchedule()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

type executionRow struct {
	ID           string         `db:"id"`
	ScheduleID   string         `db:"schedule_id"`
	AgentName    string         `db:"agent_name"`
	Status       string         `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  *time.Time     `db:"completed_at"`
	DurationMS   *int64         `db:"duration_ms"`
	Message      string         `db:"message"`
	Response     string         `db:"response"`
	Error        sql.NullString `db:"error"`
	TriggeredBy  string         `db:"triggered_by"`
	ContextUsed  int            `db:"context_used"`
	ContextMax   int            `db:"context_max"`
	Cost         float64        `db:"cost"`
	ToolCalls    string         `db:"tool_calls"`
	ExecutionLog string         `db:"execution_log"`
}

func (row *executionRow) toExecution() *Execution {
	e := &Execution{
		ID:           row.ID,
		ScheduleID:   row.ScheduleID,
		AgentName:    row.AgentName,
		Status:       ExecutionStatus(row.Status),
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
		DurationMS:   row.DurationMS,
		Message:      row.Message,
		Response:     row.Response,
		TriggeredBy:  TriggeredBy(row.TriggeredBy),
		ContextUsed:  row.ContextUsed,
		ContextMax:   row.ContextMax,
		Cost:         row.Cost,
		ToolCalls:    row.ToolCalls,
		ExecutionLog: row.ExecutionLog,
	}
	if row.Error.Valid {
		e.Error = &row.Error.String
	}
	return e
}
