package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"arenactl/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}

func newTestRun(t *testing.T, store *Store) domain.Run {
	t.Helper()
	run := domain.Run{
		ID:     uuid.NewString(),
		Status: domain.RunStatusBuilding,
		OutDir: "/tmp/out",
		Seeds:  []int{1, 2, 3},
		Agents: []string{"runner", "hunter"},
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	run := newTestRun(t, store)

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunStatusBuilding {
		t.Fatalf("status=%s want=building", got.Status)
	}
	if len(got.Seeds) != 3 || got.Seeds[2] != 3 {
		t.Fatalf("seeds round-trip wrong: %v", got.Seeds)
	}
	if len(got.Agents) != 2 || got.Agents[0] != "runner" {
		t.Fatalf("agents round-trip wrong: %v", got.Agents)
	}

	if err := store.UpdateRunStatus(ctx, run.ID, domain.RunStatusFailed, "roster: boom"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := store.SetRunChampion(ctx, run.ID, "hunter"); err != nil {
		t.Fatalf("set champion: %v", err)
	}
	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run after update: %v", err)
	}
	if got.Status != domain.RunStatusFailed || got.LastError != "roster: boom" || got.Champion != "hunter" {
		t.Fatalf("run update lost fields: %+v", got)
	}

	latest, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != run.ID {
		t.Fatalf("latest=%s want=%s", latest.ID, run.ID)
	}
}

func TestMatchRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	run := newTestRun(t, store)
	records := []domain.MatchRecord{
		{
			Stage:       "roundrobin",
			Task:        domain.MatchTask{Seed: 1, Side: domain.SideNormal, AgentX: "runner", AgentY: "hunter"},
			Outcome:     domain.OutcomeCompleted,
			WinnerAgent: "hunter",
			Ticks:       1800,
			MetricsX:    &domain.AgentMetrics{Score: 10, AliveTicks: 1200, Territory: 3},
			MetricsY:    &domain.AgentMetrics{Score: 22, AliveTicks: 1800, Territory: 9},
		},
		{
			Stage:   "roundrobin",
			Task:    domain.MatchTask{Seed: 1, Side: domain.SideSwapped, AgentX: "runner", AgentY: "hunter"},
			Outcome: domain.OutcomeCrashed,
			Detail:  "exit status 2",
		},
	}
	if err := store.InsertMatchRecords(ctx, run.ID, records); err != nil {
		t.Fatalf("insert records: %v", err)
	}

	got, err := store.ListMatchRecords(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records=%d want=2", len(got))
	}
	if got[0].WinnerAgent != "hunter" || got[0].MetricsY == nil || got[0].MetricsY.Score != 22 {
		t.Fatalf("completed record round-trip wrong: %+v", got[0])
	}
	if got[1].Outcome != domain.OutcomeCrashed || got[1].MetricsX != nil {
		t.Fatalf("crashed record round-trip wrong: %+v", got[1])
	}
	if got[1].Task.Side != domain.SideSwapped {
		t.Fatalf("side round-trip wrong: %+v", got[1].Task)
	}
}

func TestListMatchRecordsWithoutLimitReturnsAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	run := newTestRun(t, store)
	records := make([]domain.MatchRecord, 0, 1100)
	for i := 0; i < 1100; i++ {
		records = append(records, domain.MatchRecord{
			Stage:   "roundrobin",
			Task:    domain.MatchTask{Seed: i, Side: domain.SideNormal, AgentX: "runner", AgentY: "hunter"},
			Outcome: domain.OutcomeCompleted,
		})
	}
	if err := store.InsertMatchRecords(ctx, run.ID, records); err != nil {
		t.Fatalf("insert records: %v", err)
	}

	got, err := store.ListMatchRecords(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(got) != 1100 {
		t.Fatalf("limit=0 returned %d of 1100 records", len(got))
	}

	capped, err := store.ListMatchRecords(ctx, run.ID, 10)
	if err != nil {
		t.Fatalf("list records with limit: %v", err)
	}
	if len(capped) != 10 {
		t.Fatalf("limit=10 returned %d records", len(capped))
	}
}

func TestBracketNodesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	run := newTestRun(t, store)
	nodes := []domain.BracketNode{
		{Stage: "semifinal-1", AgentX: "a", AgentY: "d", WinsX: 3, WinsY: 1, Winner: "a", Played: true},
		{Stage: "final", Skipped: "undecided semifinal"},
	}
	if err := store.InsertBracketNodes(ctx, run.ID, nodes); err != nil {
		t.Fatalf("insert nodes: %v", err)
	}

	got, err := store.ListBracketNodes(ctx, run.ID)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("nodes=%d want=2", len(got))
	}
	if !got[0].Played || got[0].Winner != "a" {
		t.Fatalf("played node round-trip wrong: %+v", got[0])
	}
	if got[1].Played || got[1].Skipped == "" {
		t.Fatalf("skipped node round-trip wrong: %+v", got[1])
	}
}

func TestRunEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	run := newTestRun(t, store)
	events := []domain.RunEvent{
		{RunID: run.ID, Kind: "agent_excluded", AgentID: "broken", Detail: "compile failed"},
		{RunID: run.ID, Kind: "bracket_tie", Detail: "final undecided"},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	got, err := store.ListRunEvents(ctx, run.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events=%d want=2", len(got))
	}
	for _, ev := range got {
		if ev.RunID != run.ID || ev.Kind == "" {
			t.Fatalf("event round-trip wrong: %+v", ev)
		}
	}
}
