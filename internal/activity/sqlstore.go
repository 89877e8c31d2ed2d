package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/db"
)

// SQLRepository implements Repository on the shared db.Pool.
type SQLRepository struct {
	pool   *db.Pool
	driver string
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates the activity store and ensures its schema.
func NewSQLRepository(pool *db.Pool, driver string) (*SQLRepository, error) {
	r := &SQLRepository{pool: pool, driver: driver}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize activity schema: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		activity_state TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		triggered_by TEXT NOT NULL DEFAULT '',
		related_execution_id TEXT DEFAULT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP DEFAULT NULL,
		duration_ms INTEGER DEFAULT NULL,
		error TEXT DEFAULT NULL,
		details TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_activities_agent ON activities(agent_name, started_at);
	`
	_, err := r.pool.Writer().Exec(schema)
	return err
}

const activityColumns = `id, agent_name, activity_type, activity_state, user_id, triggered_by,
	related_execution_id, started_at, completed_at, duration_ms, error, details`

func (r *SQLRepository) Create(ctx context.Context, a *Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	details, err := marshalDetails(a.Details)
	if err != nil {
		return err
	}
	query := r.pool.Writer().Rebind(`
		INSERT INTO activities (` + activityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.pool.Writer().ExecContext(ctx, query,
		a.ID, a.AgentName, a.ActivityType, string(a.ActivityState), a.UserID, a.TriggeredBy,
		a.RelatedExecutionID, a.StartedAt, a.CompletedAt, a.DurationMS, a.Error, details)
	return err
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*Activity, error) {
	var row activityRow
	query := r.pool.Reader().Rebind(`SELECT ` + activityColumns + ` FROM activities WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toActivity()
}

func (r *SQLRepository) List(ctx context.Context, agentName string, limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []activityRow
	query := r.pool.Reader().Rebind(`
		SELECT ` + activityColumns + ` FROM activities
		WHERE agent_name = ? ORDER BY started_at DESC LIMIT ?
	`)
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, agentName, limit); err != nil {
		return nil, err
	}
	activities := make([]*Activity, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toActivity()
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func (r *SQLRepository) Update(ctx context.Context, a *Activity) error {
	details, err := marshalDetails(a.Details)
	if err != nil {
		return err
	}
	query := r.pool.Writer().Rebind(`
		UPDATE activities
		SET activity_state = ?, completed_at = ?, duration_ms = ?, error = ?, details = ?
		WHERE id = ?
	`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		string(a.ActivityState), a.CompletedAt, a.DurationMS, a.Error, details, a.ID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, a.ID)
	}
	return nil
}

func marshalDetails(details map[string]interface{}) (string, error) {
	if details == nil {
		return "{}", nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to serialize activity details: %w", err)
	}
	return string(data), nil
}

type activityRow struct {
	ID                 string         `db:"id"`
	AgentName          string         `db:"agent_name"`
	ActivityType       string         `db:"activity_type"`
	ActivityState      string         `db:"activity_state"`
	UserID             string         `db:"user_id"`
	TriggeredBy        string         `db:"triggered_by"`
	RelatedExecutionID *string        `db:"related_execution_id"`
	StartedAt          time.Time      `db:"started_at"`
	CompletedAt        *time.Time     `db:"completed_at"`
	DurationMS         *int64         `db:"duration_ms"`
	Error              sql.NullString `db:"error"`
	Details            string         `db:"details"`
}

func (row *activityRow) toActivity() (*Activity, error) {
	a := &Activity{
		ID:                 row.ID,
		AgentName:          row.AgentName,
		ActivityType:       row.ActivityType,
		ActivityState:      State(row.ActivityState),
		UserID:             row.UserID,
		TriggeredBy:        row.TriggeredBy,
		RelatedExecutionID: row.RelatedExecutionID,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
		DurationMS:         row.DurationMS,
	}
	if row.Error.Valid {
		a.Error = &row.Error.String
	}
	if row.Details != "" {
		if err := json.Unmarshal([]byte(row.Details), &a.Details); err != nil {
			return nil, fmt.Errorf("failed to parse details for activity %s: %w", row.ID, err)
		}
	}
	return a, nil
}
