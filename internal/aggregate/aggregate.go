// Package aggregate turns raw match executions into classified records,
// standings and report files. Classification reads each task's summary.json
// rather than trusting the engine's exit status alone.
package aggregate

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"arenactl/internal/domain"
	"arenactl/internal/driver"
)

// SummaryFileName is the result file the engine writes into its working
// directory on a clean finish.
const SummaryFileName = "summary.json"

// summaryFile mirrors the engine's result document. Roles are positional
// ("A"/"B", sometimes lowercase); agent identity is recovered through the
// task's side mode.
type summaryFile struct {
	Winner string           `json:"winner"`
	Ticks  int64            `json:"ticks"`
	Score  map[string]int64 `json:"score"`
	Agents []summaryAgent   `json:"agents"`
}

type summaryAgent struct {
	ID            string `json:"id"`
	AliveTicks    int64  `json:"alive_ticks"`
	TerritoryMax  *int64 `json:"territory_max"`
	TerritoryLast *int64 `json:"territory_last"`
}

func (a summaryAgent) territory() int64 {
	if a.TerritoryMax != nil {
		return *a.TerritoryMax
	}
	if a.TerritoryLast != nil {
		return *a.TerritoryLast
	}
	return 0
}

func roleOf(key string) domain.Role {
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "A":
		return domain.RoleA
	case "B":
		return domain.RoleB
	default:
		return domain.RoleNone
	}
}

// Classify reduces one execution to its terminal record. Process failures
// and timeouts dominate; otherwise the outcome is decided by the presence
// and shape of summary.json.
func Classify(stage string, exe driver.Execution) domain.MatchRecord {
	rec := domain.MatchRecord{Stage: stage, Task: exe.Task}

	if exe.TimedOut || exe.ExitErr != "" {
		rec.Outcome = domain.OutcomeCrashed
		rec.Detail = exe.ExitErr
		return rec
	}

	raw, err := os.ReadFile(filepath.Join(exe.Dir, SummaryFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			rec.Outcome = domain.OutcomeMissingSummary
			rec.Detail = "engine exited without writing " + SummaryFileName
			return rec
		}
		rec.Outcome = domain.OutcomeMissingSummary
		rec.Detail = fmt.Sprintf("read %s: %v", SummaryFileName, err)
		return rec
	}

	var sum summaryFile
	if err := json.Unmarshal(raw, &sum); err != nil {
		rec.Outcome = domain.OutcomeMalformedSummary
		rec.Detail = fmt.Sprintf("decode %s: %v", SummaryFileName, err)
		return rec
	}

	rec.Outcome = domain.OutcomeCompleted
	rec.Ticks = sum.Ticks
	rec.WinnerAgent = exe.Task.AgentInRole(roleOf(sum.Winner))

	byRole := map[domain.Role]*domain.AgentMetrics{
		domain.RoleA: {},
		domain.RoleB: {},
	}
	for key, score := range sum.Score {
		if role := roleOf(key); role != domain.RoleNone {
			byRole[role].Score = score
		}
	}
	for _, a := range sum.Agents {
		if role := roleOf(a.ID); role != domain.RoleNone {
			byRole[role].AliveTicks = a.AliveTicks
			byRole[role].Territory = a.territory()
		}
	}

	for role, metrics := range byRole {
		switch exe.Task.AgentInRole(role) {
		case exe.Task.AgentX:
			rec.MetricsX = metrics
		case exe.Task.AgentY:
			rec.MetricsY = metrics
		}
	}
	return rec
}

// ClassifyAll classifies a completed batch, preserving task order.
func ClassifyAll(stage string, execs []driver.Execution) []domain.MatchRecord {
	records := make([]domain.MatchRecord, len(execs))
	for i, exe := range execs {
		records[i] = Classify(stage, exe)
	}
	return records
}

type accumulator struct {
	games, wins, losses, ties int
	scoreDiff                 int64
	terrDiff                  int64
	aliveTicks                int64
}

// Standings folds completed records into ranked leaderboard rows. Records
// with any other outcome contribute nothing. Ranking is by wins descending
// with roster order breaking ties; agents with no completed games still get
// a row so exclusions stay visible in reports.
func Standings(records []domain.MatchRecord, rosterOrder []string) []domain.LeaderboardRow {
	index := make(map[string]int, len(rosterOrder))
	acc := make(map[string]*accumulator, len(rosterOrder))
	for i, id := range rosterOrder {
		index[id] = i
		acc[id] = &accumulator{}
	}

	fold := func(id string, own, opp *domain.AgentMetrics, won, tied bool) {
		a, ok := acc[id]
		if !ok {
			return
		}
		a.games++
		switch {
		case won:
			a.wins++
		case tied:
			a.ties++
		default:
			a.losses++
		}
		if own != nil && opp != nil {
			a.scoreDiff += own.Score - opp.Score
			a.terrDiff += own.Territory - opp.Territory
			a.aliveTicks += own.AliveTicks
		}
	}

	for _, rec := range records {
		if rec.Outcome != domain.OutcomeCompleted {
			continue
		}
		tied := rec.WinnerAgent == ""
		fold(rec.Task.AgentX, rec.MetricsX, rec.MetricsY, rec.WinnerAgent == rec.Task.AgentX, tied)
		fold(rec.Task.AgentY, rec.MetricsY, rec.MetricsX, rec.WinnerAgent == rec.Task.AgentY, tied)
	}

	rows := make([]domain.LeaderboardRow, 0, len(rosterOrder))
	for _, id := range rosterOrder {
		a := acc[id]
		row := domain.LeaderboardRow{
			AgentID: id,
			Games:   a.games,
			Wins:    a.wins,
			Losses:  a.losses,
			Ties:    a.ties,
		}
		if a.games > 0 {
			n := float64(a.games)
			row.WinRate = float64(a.wins) / n
			row.AvgScoreDiff = float64(a.scoreDiff) / n
			row.AvgTerrDiff = float64(a.terrDiff) / n
			row.AvgAliveTicks = float64(a.aliveTicks) / n
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Wins != rows[j].Wins {
			return rows[i].Wins > rows[j].Wins
		}
		return index[rows[i].AgentID] < index[rows[j].AgentID]
	})
	return rows
}

// WriteMatchesCSV writes the per-match report consumed by external tooling.
func WriteMatchesCSV(path string, records []domain.MatchRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create matches report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"tag", "stage", "seed", "side", "agent_x", "agent_y", "outcome", "winner", "ticks",
		"score_x", "score_y", "alive_x", "alive_y", "terr_x", "terr_y", "detail",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		// metric cells stay empty for tasks that never produced a summary
		scoreX, aliveX, terrX := metricCells(rec.MetricsX)
		scoreY, aliveY, terrY := metricCells(rec.MetricsY)
		row := []string{
			rec.Task.Tag(),
			rec.Stage,
			strconv.Itoa(rec.Task.Seed),
			string(rec.Task.Side),
			rec.Task.AgentX,
			rec.Task.AgentY,
			string(rec.Outcome),
			rec.WinnerAgent,
			strconv.FormatInt(rec.Ticks, 10),
			scoreX,
			scoreY,
			aliveX,
			aliveY,
			terrX,
			terrY,
			rec.Detail,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func metricCells(m *domain.AgentMetrics) (score, alive, terr string) {
	if m == nil {
		return "", "", ""
	}
	return strconv.FormatInt(m.Score, 10),
		strconv.FormatInt(m.AliveTicks, 10),
		strconv.FormatInt(m.Territory, 10)
}

var leaderboardHeader = []string{"agent", "gp", "w", "l", "t", "winrate", "avg_score_diff", "avg_terr_diff", "avg_survive_ticks"}

func leaderboardCells(row domain.LeaderboardRow) []string {
	return []string{
		row.AgentID,
		strconv.Itoa(row.Games),
		strconv.Itoa(row.Wins),
		strconv.Itoa(row.Losses),
		strconv.Itoa(row.Ties),
		fmt.Sprintf("%.3f", row.WinRate),
		fmt.Sprintf("%.2f", row.AvgScoreDiff),
		fmt.Sprintf("%.2f", row.AvgTerrDiff),
		fmt.Sprintf("%.1f", row.AvgAliveTicks),
	}
}

// WriteLeaderboardCSV writes the machine-readable standings.
func WriteLeaderboardCSV(path string, rows []domain.LeaderboardRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create leaderboard report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(leaderboardHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(leaderboardCells(row)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteLeaderboardMarkdown writes the human-readable standings table.
func WriteLeaderboardMarkdown(path string, rows []domain.LeaderboardRow) error {
	var b strings.Builder
	b.WriteString("| " + strings.Join(leaderboardHeader, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(leaderboardHeader)) + "\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(leaderboardCells(row), " | ") + " |\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write leaderboard markdown: %w", err)
	}
	return nil
}
