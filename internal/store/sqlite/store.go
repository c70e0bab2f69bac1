package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"arenactl/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	out_dir TEXT NOT NULL,
	seeds TEXT NOT NULL,
	agents TEXT NOT NULL,
	champion TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS match_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	seed INTEGER NOT NULL,
	side TEXT NOT NULL,
	agent_x TEXT NOT NULL,
	agent_y TEXT NOT NULL,
	outcome TEXT NOT NULL,
	winner TEXT NOT NULL DEFAULT '',
	ticks INTEGER NOT NULL DEFAULT 0,
	metrics_x TEXT NULL,
	metrics_y TEXT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_match_records_run ON match_records(run_id, id);

CREATE TABLE IF NOT EXISTS bracket_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	agent_x TEXT NOT NULL,
	agent_y TEXT NOT NULL,
	wins_x INTEGER NOT NULL DEFAULT 0,
	wins_y INTEGER NOT NULL DEFAULT 0,
	winner TEXT NOT NULL DEFAULT '',
	played INTEGER NOT NULL DEFAULT 0,
	skipped TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_bracket_nodes_run ON bracket_nodes(run_id, id);

CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if run.Status == "" {
		run.Status = domain.RunStatusBuilding
	}

	seeds, err := json.Marshal(run.Seeds)
	if err != nil {
		return fmt.Errorf("marshal run seeds: %w", err)
	}
	agents, err := json.Marshal(run.Agents)
	if err != nil {
		return fmt.Errorf("marshal run agents: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs(id, status, out_dir, seeds, agents, champion, last_error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.OutDir, string(seeds), string(agents),
		run.Champion, run.LastError, run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func scanRun(row interface{ Scan(...any) error }) (domain.Run, error) {
	var r domain.Run
	var status, seeds, agents string
	var created, updated int64
	if err := row.Scan(
		&r.ID, &status, &r.OutDir, &seeds, &agents, &r.Champion, &r.LastError, &created, &updated,
	); err != nil {
		return domain.Run{}, err
	}
	r.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(seeds), &r.Seeds); err != nil {
		return domain.Run{}, fmt.Errorf("unmarshal run seeds: %w", err)
	}
	if err := json.Unmarshal([]byte(agents), &r.Agents); err != nil {
		return domain.Run{}, fmt.Errorf("unmarshal run agents: %w", err)
	}
	r.CreatedAt = unixToTime(created)
	r.UpdatedAt = unixToTime(updated)
	return r, nil
}

const runColumns = `id, status, out_dir, seeds, agents, champion, last_error, created_at, updated_at`

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently created run. sql.ErrNoRows is wrapped
// when the database is empty.
func (s *Store) LatestRun(ctx context.Context) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, lastError string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (s *Store) SetRunChampion(ctx context.Context, runID string, champion string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET champion = ?, updated_at = ? WHERE id = ?`,
		champion, time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("set run champion: %w", err)
	}
	return nil
}

// InsertMatchRecords persists one stage's records in a single transaction
// so a crash never leaves a half-written stage behind.
func (s *Store) InsertMatchRecords(ctx context.Context, runID string, records []domain.MatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx insert records: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Unix()
	for _, rec := range records {
		metricsX, err := nullableMetrics(rec.MetricsX)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsY, err := nullableMetrics(rec.MetricsY)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO match_records(
				run_id, stage, seed, side, agent_x, agent_y, outcome, winner,
				ticks, metrics_x, metrics_y, detail, created_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, rec.Stage, rec.Task.Seed, string(rec.Task.Side), rec.Task.AgentX, rec.Task.AgentY,
			string(rec.Outcome), rec.WinnerAgent, rec.Ticks, metricsX, metricsY, rec.Detail, now,
		); err != nil {
			return fmt.Errorf("insert match record: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE id = ?`, now, runID); err != nil {
		return fmt.Errorf("touch run after records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert records: %w", err)
	}
	return nil
}

// ListMatchRecords returns a run's records in insertion order. A limit of
// zero or less returns every record; a large run must not be truncated or
// the re-aggregated standings would be wrong.
func (s *Store) ListMatchRecords(ctx context.Context, runID string, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		// sqlite treats a negative LIMIT as unbounded
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage, seed, side, agent_x, agent_y, outcome, winner, ticks, metrics_x, metrics_y, detail
		FROM match_records
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list match records: %w", err)
	}
	defer rows.Close()

	var result []domain.MatchRecord
	for rows.Next() {
		var rec domain.MatchRecord
		var side, outcome string
		var metricsX, metricsY sql.NullString
		if err := rows.Scan(
			&rec.Stage, &rec.Task.Seed, &side, &rec.Task.AgentX, &rec.Task.AgentY,
			&outcome, &rec.WinnerAgent, &rec.Ticks, &metricsX, &metricsY, &rec.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan match record: %w", err)
		}
		rec.Task.Side = domain.SideMode(side)
		rec.Outcome = domain.MatchOutcome(outcome)
		if rec.MetricsX, err = parseMetrics(metricsX); err != nil {
			return nil, fmt.Errorf("parse match metrics: %w", err)
		}
		if rec.MetricsY, err = parseMetrics(metricsY); err != nil {
			return nil, fmt.Errorf("parse match metrics: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match records: %w", err)
	}
	return result, nil
}

func (s *Store) InsertBracketNodes(ctx context.Context, runID string, nodes []domain.BracketNode) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx insert bracket: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Unix()
	for _, node := range nodes {
		played := 0
		if node.Played {
			played = 1
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO bracket_nodes(run_id, stage, agent_x, agent_y, wins_x, wins_y, winner, played, skipped, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, node.Stage, node.AgentX, node.AgentY, node.WinsX, node.WinsY,
			node.Winner, played, node.Skipped, now,
		); err != nil {
			return fmt.Errorf("insert bracket node: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert bracket: %w", err)
	}
	return nil
}

func (s *Store) ListBracketNodes(ctx context.Context, runID string) ([]domain.BracketNode, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage, agent_x, agent_y, wins_x, wins_y, winner, played, skipped
		FROM bracket_nodes
		WHERE run_id = ?
		ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bracket nodes: %w", err)
	}
	defer rows.Close()

	result := make([]domain.BracketNode, 0)
	for rows.Next() {
		var node domain.BracketNode
		var played int
		if err := rows.Scan(
			&node.Stage, &node.AgentX, &node.AgentY, &node.WinsX, &node.WinsY,
			&node.Winner, &played, &node.Skipped,
		); err != nil {
			return nil, fmt.Errorf("scan bracket node: %w", err)
		}
		node.Played = played != 0
		result = append(result, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bracket nodes: %w", err)
	}
	return result, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.RunEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_events(run_id, kind, agent_id, detail, created_at)
		VALUES(?, ?, ?, ?, ?)`,
		ev.RunID, ev.Kind, ev.AgentID, ev.Detail, ev.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, kind, agent_id, detail, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RunEvent, 0, limit)
	for rows.Next() {
		var ev domain.RunEvent
		var created int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Kind, &ev.AgentID, &ev.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		ev.CreatedAt = unixToTime(created)
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return result, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullableMetrics(m *domain.AgentMetrics) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func parseMetrics(v sql.NullString) (*domain.AgentMetrics, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var m domain.AgentMetrics
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil, err
	}
	return &m, nil
}
