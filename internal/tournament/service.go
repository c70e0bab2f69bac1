// Package tournament wires the phases of a run together: build, round-robin,
// aggregation and the optional playoff bracket. Only roster problems abort a
// run; every other failure is recorded and the run keeps going.
package tournament

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"arenactl/internal/aggregate"
	"arenactl/internal/bracket"
	"arenactl/internal/domain"
	"arenactl/internal/driver"
	"arenactl/internal/roster"
	"arenactl/internal/schedule"
)

// StageRoundRobin names the all-pairs stage in records and output paths.
const StageRoundRobin = "roundrobin"

type Store interface {
	CreateRun(ctx context.Context, run domain.Run) error
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, lastError string) error
	SetRunChampion(ctx context.Context, runID string, champion string) error
	InsertMatchRecords(ctx context.Context, runID string, records []domain.MatchRecord) error
	InsertBracketNodes(ctx context.Context, runID string, nodes []domain.BracketNode) error
	AppendEvent(ctx context.Context, ev domain.RunEvent) error
}

// Builder specializes every non-builtin agent ahead of dispatch. The
// returned map holds per-agent failures; failed agents are excluded, not
// fatal. *build.Cache satisfies it.
type Builder interface {
	BuildAll(ctx context.Context, agents []domain.AgentDescriptor) map[string]error
}

// Executor dispatches one stage and blocks until every task is terminal.
type Executor interface {
	RunAll(ctx context.Context, stage string, tasks []domain.MatchTask) []driver.Execution
}

type Config struct {
	OutDir  string
	Seeds   []int
	Bracket bool
}

func (c Config) withDefaults() Config {
	if c.OutDir == "" {
		c.OutDir = "out"
	}
	if len(c.Seeds) == 0 {
		c.Seeds = []int{1, 2, 3}
	}
	return c
}

type Service struct {
	store   Store
	builder Builder
	exec    Executor
	cfg     Config
	logger  *log.Logger
}

func New(store Store, builder Builder, exec Executor, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:   store,
		builder: builder,
		exec:    exec,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Execute runs one full tournament over the roster and returns the final
// run header. The returned error is non-nil only for fatal conditions: a
// roster left with fewer than two agents, or a run that could not be
// registered at all.
func (s *Service) Execute(ctx context.Context, ros *roster.Roster) (domain.Run, error) {
	run := domain.Run{
		ID:        uuid.NewString(),
		Status:    domain.RunStatusBuilding,
		OutDir:    s.cfg.OutDir,
		Seeds:     s.cfg.Seeds,
		Agents:    ros.IDs(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("register run: %w", err)
	}
	s.logger.Printf("run %s: %d agents, %d seeds", run.ID, len(run.Agents), len(run.Seeds))

	// Build phase. Failed builds exclude the agent from the run.
	failed := s.builder.BuildAll(ctx, ros.Agents())
	excluded := make(map[string]bool, len(failed))
	for agentID, buildErr := range failed {
		excluded[agentID] = true
		s.logger.Printf("run %s: agent %s excluded: %v", run.ID, agentID, buildErr)
		s.event(ctx, run.ID, "agent_excluded", agentID, buildErr.Error())
	}
	active, err := ros.Without(excluded)
	if err != nil {
		s.fail(ctx, &run, fmt.Errorf("after build exclusions: %w", err))
		return run, err
	}
	for _, agent := range active.Agents() {
		if agent.Kind == domain.AgentKindBlob {
			s.event(ctx, run.ID, "blob_unverified", agent.ID,
				"prebuilt binary used for both spawn positions without position checks")
		}
	}

	// Round-robin phase. RunAll returns only when every task is terminal,
	// so the standings below always see the complete stage.
	s.setStatus(ctx, &run, domain.RunStatusRunning)
	tasks := schedule.Generate(active.IDs(), s.cfg.Seeds)
	records := aggregate.ClassifyAll(StageRoundRobin, s.exec.RunAll(ctx, StageRoundRobin, tasks))
	s.persistRecords(ctx, run.ID, records)
	s.reportFailures(ctx, run.ID, records)

	s.setStatus(ctx, &run, domain.RunStatusAggregating)
	rows := aggregate.Standings(records, active.IDs())

	allRecords := records
	if s.cfg.Bracket {
		s.setStatus(ctx, &run, domain.RunStatusBracket)
		res := bracket.Run(ctx, s.exec, rows, s.cfg.Seeds, s.logger)
		if len(res.Nodes) == 0 {
			s.logger.Printf("run %s: bracket not triggered, fewer than four agents with a win", run.ID)
			s.event(ctx, run.ID, "bracket_skipped", "", "fewer than four agents with a win")
		} else {
			s.persistRecords(ctx, run.ID, res.Records)
			s.reportFailures(ctx, run.ID, res.Records)
			if err := s.store.InsertBracketNodes(ctx, run.ID, res.Nodes); err != nil {
				s.logger.Printf("run %s: persist bracket: %v", run.ID, err)
			}
			allRecords = append(allRecords, res.Records...)
			if res.Champion != "" {
				run.Champion = res.Champion
				if err := s.store.SetRunChampion(ctx, run.ID, res.Champion); err != nil {
					s.logger.Printf("run %s: persist champion: %v", run.ID, err)
				}
				s.logger.Printf("run %s: champion %s", run.ID, res.Champion)
			} else {
				s.event(ctx, run.ID, "bracket_undecided", "", "no champion: playoff series drawn or skipped")
				s.logger.Printf("run %s: no champion", run.ID)
			}
		}
	}

	s.writeReports(ctx, run.ID, allRecords, rows)
	s.setStatus(ctx, &run, domain.RunStatusDone)
	return run, nil
}

func (s *Service) writeReports(ctx context.Context, runID string, records []domain.MatchRecord, rows []domain.LeaderboardRow) {
	writes := []struct {
		name string
		fn   func(string) error
	}{
		{"matches.csv", func(p string) error { return aggregate.WriteMatchesCSV(p, records) }},
		{"leaderboard.csv", func(p string) error { return aggregate.WriteLeaderboardCSV(p, rows) }},
		{"leaderboard.md", func(p string) error { return aggregate.WriteLeaderboardMarkdown(p, rows) }},
	}
	for _, w := range writes {
		if err := w.fn(filepath.Join(s.cfg.OutDir, w.name)); err != nil {
			s.logger.Printf("run %s: write %s: %v", runID, w.name, err)
			s.event(ctx, runID, "report_failed", "", fmt.Sprintf("%s: %v", w.name, err))
		}
	}
}

func (s *Service) persistRecords(ctx context.Context, runID string, records []domain.MatchRecord) {
	if err := s.store.InsertMatchRecords(ctx, runID, records); err != nil {
		s.logger.Printf("run %s: persist records: %v", runID, err)
	}
}

func (s *Service) reportFailures(ctx context.Context, runID string, records []domain.MatchRecord) {
	for _, rec := range records {
		if rec.Outcome == domain.OutcomeCompleted {
			continue
		}
		s.event(ctx, runID, "match_"+string(rec.Outcome), "", rec.Task.Tag()+": "+rec.Detail)
	}
}

func (s *Service) setStatus(ctx context.Context, run *domain.Run, status domain.RunStatus) {
	run.Status = status
	if err := s.store.UpdateRunStatus(ctx, run.ID, status, ""); err != nil {
		s.logger.Printf("run %s: update status %s: %v", run.ID, status, err)
	}
}

func (s *Service) fail(ctx context.Context, run *domain.Run, cause error) {
	run.Status = domain.RunStatusFailed
	run.LastError = cause.Error()
	s.logger.Printf("run %s: failed: %v", run.ID, cause)
	if err := s.store.UpdateRunStatus(ctx, run.ID, domain.RunStatusFailed, cause.Error()); err != nil {
		s.logger.Printf("run %s: update status failed: %v", run.ID, err)
	}
}

func (s *Service) event(ctx context.Context, runID, kind, agentID, detail string) {
	err := s.store.AppendEvent(ctx, domain.RunEvent{
		RunID:   runID,
		Kind:    kind,
		AgentID: agentID,
		Detail:  detail,
	})
	if err != nil {
		s.logger.Printf("run %s: append event %s: %v", runID, kind, err)
	}
}
