package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sops (
		name TEXT PRIMARY KEY,
		task_name TEXT NOT NULL,
		safety_equipment TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sops_updated ON sops(updated_at);

	CREATE TABLE IF NOT EXISTS sop_steps (
		sop_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		step_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		required_tools TEXT NOT NULL,
		expected_time REAL,
		zone TEXT,
		PRIMARY KEY (sop_name, position),
		FOREIGN KEY (sop_name) REFERENCES sops(name) ON DELETE CASCADE
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveSOP inserts or replaces the SOP stored under name. Steps are rewritten
// in order; created_at survives updates.
func (c *Client) SaveSOP(ctx context.Context, name string, sop *models.SOP) error {
	safety, err := json.Marshal(nonNil(sop.SafetyEquipment))
	if err != nil {
		return fmt.Errorf("failed to marshal safety equipment: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sops (name, task_name, safety_equipment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			task_name = excluded.task_name,
			safety_equipment = excluded.safety_equipment,
			updated_at = excluded.updated_at
	`, name, sop.TaskName, string(safety), now, now)
	if err != nil {
		return fmt.Errorf("failed to save SOP: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sop_steps WHERE sop_name = ?", name); err != nil {
		return fmt.Errorf("failed to clear SOP steps: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sop_steps (sop_name, position, step_id, action, required_tools, expected_time, zone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, step := range sop.Steps {
		tools, err := json.Marshal(nonNil(step.RequiredTools))
		if err != nil {
			return fmt.Errorf("failed to marshal required tools: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, name, i, step.ID, step.Description, string(tools), step.ExpectedDuration, step.Zone); err != nil {
			return fmt.Errorf("failed to insert step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("SOP saved", zap.String("name", name), zap.Int("steps", len(sop.Steps)))
	return nil
}

func (c *Client) GetSOP(ctx context.Context, name string) (*models.SOPRecord, error) {
	var record models.SOPRecord
	var safety string
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT name, task_name, safety_equipment, created_at, updated_at
		FROM sops WHERE name = ?
	`, name).Scan(&record.Name, &record.SOP.TaskName, &safety, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("SOP %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get SOP: %w", err)
	}

	if err := json.Unmarshal([]byte(safety), &record.SOP.SafetyEquipment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal safety equipment: %w", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0)
	record.UpdatedAt = time.Unix(updatedAt, 0)

	rows, err := c.db.QueryContext(ctx, `
		SELECT position, step_id, action, required_tools, expected_time, zone
		FROM sop_steps WHERE sop_name = ? ORDER BY position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query SOP steps: %w", err)
	}
	defer rows.Close()

	record.SOP.Steps = []models.Step{}
	for rows.Next() {
		var step models.Step
		var tools string
		var expected sql.NullFloat64
		var zone sql.NullString

		if err := rows.Scan(&step.SequenceIndex, &step.ID, &step.Description, &tools, &expected, &zone); err != nil {
			return nil, fmt.Errorf("failed to scan SOP step: %w", err)
		}
		if err := json.Unmarshal([]byte(tools), &step.RequiredTools); err != nil {
			return nil, fmt.Errorf("failed to unmarshal required tools: %w", err)
		}
		step.ExpectedDuration = expected.Float64
		step.Zone = zone.String
		record.SOP.Steps = append(record.SOP.Steps, step)
	}

	return &record, rows.Err()
}

func (c *Client) ListSOPs(ctx context.Context) ([]models.SOPListing, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.name, s.task_name, COUNT(st.position), s.updated_at
		FROM sops s
		LEFT JOIN sop_steps st ON st.sop_name = s.name
		GROUP BY s.name
		ORDER BY s.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list SOPs: %w", err)
	}
	defer rows.Close()

	listings := []models.SOPListing{}
	for rows.Next() {
		var l models.SOPListing
		var updatedAt int64
		if err := rows.Scan(&l.Name, &l.TaskName, &l.StepCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan SOP listing: %w", err)
		}
		l.UpdatedAt = time.Unix(updatedAt, 0)
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

func (c *Client) DeleteSOP(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM sops WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete SOP: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("SOP %q: %w", name, ErrNotFound)
	}

	logger.Info("SOP deleted", zap.String("name", name))
	return nil
}

func (c *Client) CountSOPs(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sops").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count SOPs: %w", err)
	}
	return n, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
