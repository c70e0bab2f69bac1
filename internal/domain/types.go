package domain

import (
	"fmt"
	"time"
)

type AgentKind string

const (
	AgentKindBuiltin AgentKind = "builtin"
	AgentKindSource  AgentKind = "asm"
	AgentKindBlob    AgentKind = "blob"
)

// AgentDescriptor is one roster entry, immutable after load.
type AgentDescriptor struct {
	ID         string    `json:"id"`
	Kind       AgentKind `json:"kind"`
	Source     string    `json:"source"`
	Byte       uint8     `json:"byte"`
	Stride     int       `json:"stride"`
	HeaderSize int       `json:"header_size"`
}

type SpawnPosition string

const (
	PositionA SpawnPosition = "A"
	PositionB SpawnPosition = "B"
)

// SideMode says which agent of a pairing occupies which spawn position.
// Normal puts AgentX at PositionA; Swapped reverses the placement.
type SideMode string

const (
	SideNormal  SideMode = "AB"
	SideSwapped SideMode = "BA"
)

// Role is the engine's internal A/B slot designation, independent of
// which concrete agent occupies it.
type Role string

const (
	RoleA    Role = "A"
	RoleB    Role = "B"
	RoleNone Role = ""
)

type MatchTask struct {
	Seed   int      `json:"seed"`
	Side   SideMode `json:"side"`
	AgentX string   `json:"agent_x"`
	AgentY string   `json:"agent_y"`
}

// Tag is the per-task directory name, unique within a stage.
func (t MatchTask) Tag() string {
	return fmt.Sprintf("%s__vs__%s__seed-%d__%s", t.AgentX, t.AgentY, t.Seed, t.Side)
}

// PositionOf reports the spawn position the given agent occupies in this task.
func (t MatchTask) PositionOf(agentID string) SpawnPosition {
	if t.Side == SideSwapped {
		if agentID == t.AgentY {
			return PositionA
		}
		return PositionB
	}
	if agentID == t.AgentX {
		return PositionA
	}
	return PositionB
}

// AgentInRole remaps the engine's role designation back to a concrete agent id.
// Returns "" for RoleNone.
func (t MatchTask) AgentInRole(role Role) string {
	switch role {
	case RoleA:
		if t.Side == SideSwapped {
			return t.AgentY
		}
		return t.AgentX
	case RoleB:
		if t.Side == SideSwapped {
			return t.AgentX
		}
		return t.AgentY
	default:
		return ""
	}
}

type MatchOutcome string

const (
	OutcomeCompleted        MatchOutcome = "completed"
	OutcomeCrashed          MatchOutcome = "crashed"
	OutcomeMissingSummary   MatchOutcome = "missing_summary"
	OutcomeMalformedSummary MatchOutcome = "malformed_summary"
)

// AgentMetrics holds the per-agent numbers extracted from a completed match.
type AgentMetrics struct {
	Score      int64 `json:"score"`
	AliveTicks int64 `json:"alive_ticks"`
	Territory  int64 `json:"territory"`
}

// MatchRecord is the terminal state of one MatchTask. Metrics are
// agent-relative (already remapped through the task's side mode) and nil
// for every outcome other than OutcomeCompleted.
type MatchRecord struct {
	Stage       string        `json:"stage"`
	Task        MatchTask     `json:"task"`
	Outcome     MatchOutcome  `json:"outcome"`
	WinnerAgent string        `json:"winner_agent,omitempty"`
	Ticks       int64         `json:"ticks"`
	MetricsX    *AgentMetrics `json:"metrics_x,omitempty"`
	MetricsY    *AgentMetrics `json:"metrics_y,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// LeaderboardRow is one ranked standings line. Rank is decided by Wins with
// roster order as the tie-break; the remaining columns are informational.
type LeaderboardRow struct {
	AgentID       string  `json:"agent_id"`
	Games         int     `json:"games"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	Ties          int     `json:"ties"`
	WinRate       float64 `json:"win_rate"`
	AvgScoreDiff  float64 `json:"avg_score_diff"`
	AvgTerrDiff   float64 `json:"avg_terr_diff"`
	AvgAliveTicks float64 `json:"avg_alive_ticks"`
}

// BracketNode is one single-elimination stage between two agents.
// Winner is empty when the mini-schedule tied or the stage was skipped.
type BracketNode struct {
	Stage   string `json:"stage"`
	AgentX  string `json:"agent_x"`
	AgentY  string `json:"agent_y"`
	WinsX   int    `json:"wins_x"`
	WinsY   int    `json:"wins_y"`
	Winner  string `json:"winner,omitempty"`
	Played  bool   `json:"played"`
	Skipped string `json:"skipped,omitempty"`
}

// MatchParams are the engine parameters shared by every match of a run,
// threaded explicitly instead of living in process-wide state.
type MatchParams struct {
	ArenaSize       int    `json:"arena_size"`
	TickBudget      int    `json:"tick_budget"`
	WinMode         string `json:"win_mode"`
	TerritoryWeight int    `json:"territory_weight"`
	TerritoryBucket int    `json:"territory_bucket"`
	SpawnOffsetA    int    `json:"spawn_offset_a"`
	SpawnOffsetB    int    `json:"spawn_offset_b"`
}

func (p MatchParams) SpawnOffset(pos SpawnPosition) int {
	if pos == PositionB {
		return p.SpawnOffsetB
	}
	return p.SpawnOffsetA
}

// DefaultMatchParams mirrors the engine's stock configuration.
func DefaultMatchParams() MatchParams {
	return MatchParams{
		ArenaSize:       2048,
		TickBudget:      2000,
		WinMode:         "score_fallback",
		TerritoryWeight: 1,
		TerritoryBucket: 32,
		SpawnOffsetA:    128,
		SpawnOffsetB:    2048,
	}
}

type RunStatus string

const (
	RunStatusBuilding    RunStatus = "building"
	RunStatusRunning     RunStatus = "running"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusBracket     RunStatus = "bracket"
	RunStatusDone        RunStatus = "done"
	RunStatusFailed      RunStatus = "failed"
)

// Run is the persistent header of one tournament execution.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	OutDir    string    `json:"out_dir"`
	Seeds     []int     `json:"seeds"`
	Agents    []string  `json:"agents"`
	Champion  string    `json:"champion,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunEvent is a diagnostic log line attached to a run: excluded agents,
// bracket ties, subprocess failures and the like.
type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	AgentID   string    `json:"agent_id,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
