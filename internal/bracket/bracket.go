// Package bracket runs the top-four single-elimination playoff that follows
// the round-robin stage. Each node is a balanced head-to-head series; a
// drawn series produces no winner and skips everything downstream.
package bracket

import (
	"context"
	"log"

	"arenactl/internal/aggregate"
	"arenactl/internal/domain"
	"arenactl/internal/driver"
	"arenactl/internal/schedule"
)

const (
	StageSemifinal1 = "semifinal-1"
	StageSemifinal2 = "semifinal-2"
	StageFinal      = "final"
)

// Executor dispatches one stage's tasks and blocks until all are terminal.
// *driver.Driver satisfies it.
type Executor interface {
	RunAll(ctx context.Context, stage string, tasks []domain.MatchTask) []driver.Execution
}

// Result carries everything the playoff produced. Champion is empty when
// the bracket did not run to a decisive final.
type Result struct {
	Nodes    []domain.BracketNode
	Records  []domain.MatchRecord
	Champion string
}

// Seedable reports the playoff entrants, best rank first. The bracket only
// triggers when at least four agents won at least one round-robin match;
// otherwise it returns nil and the run ends after the round-robin.
func Seedable(rows []domain.LeaderboardRow) []string {
	var entrants []string
	for _, row := range rows {
		if row.Wins < 1 {
			continue
		}
		entrants = append(entrants, row.AgentID)
		if len(entrants) == 4 {
			return entrants
		}
	}
	return nil
}

// Run plays the bracket: rank 1 meets rank 4, rank 2 meets rank 3, and the
// semifinal winners meet in the final. Every series replays the full seed
// set in both side modes.
func Run(ctx context.Context, exec Executor, rows []domain.LeaderboardRow, seeds []int, logger *log.Logger) Result {
	if logger == nil {
		logger = log.Default()
	}
	entrants := Seedable(rows)
	if entrants == nil {
		return Result{}
	}

	var res Result
	semi1 := playNode(ctx, exec, StageSemifinal1, entrants[0], entrants[3], seeds, &res)
	semi2 := playNode(ctx, exec, StageSemifinal2, entrants[1], entrants[2], seeds, &res)

	if semi1.Winner == "" || semi2.Winner == "" {
		final := domain.BracketNode{Stage: StageFinal, Skipped: "undecided semifinal"}
		if semi1.Winner == "" {
			logger.Printf("bracket: %s undecided (%d-%d), final skipped", semi1.Stage, semi1.WinsX, semi1.WinsY)
		}
		if semi2.Winner == "" {
			logger.Printf("bracket: %s undecided (%d-%d), final skipped", semi2.Stage, semi2.WinsX, semi2.WinsY)
		}
		res.Nodes = append(res.Nodes, final)
		return res
	}

	final := playNode(ctx, exec, StageFinal, semi1.Winner, semi2.Winner, seeds, &res)
	res.Champion = final.Winner
	if res.Champion == "" {
		logger.Printf("bracket: final undecided (%d-%d), no champion", final.WinsX, final.WinsY)
	}
	return res
}

// playNode plays one series and appends its node and match records to res.
// The winner needs a strict majority of decisive completed games.
func playNode(ctx context.Context, exec Executor, stage, agentX, agentY string, seeds []int, res *Result) domain.BracketNode {
	node := domain.BracketNode{Stage: stage, AgentX: agentX, AgentY: agentY, Played: true}

	tasks := schedule.Pair(agentX, agentY, seeds)
	records := aggregate.ClassifyAll("bracket/"+stage, exec.RunAll(ctx, "bracket/"+stage, tasks))
	res.Records = append(res.Records, records...)

	for _, rec := range records {
		if rec.Outcome != domain.OutcomeCompleted {
			continue
		}
		switch rec.WinnerAgent {
		case agentX:
			node.WinsX++
		case agentY:
			node.WinsY++
		}
	}
	switch {
	case node.WinsX > node.WinsY:
		node.Winner = agentX
	case node.WinsY > node.WinsX:
		node.Winner = agentY
	}

	res.Nodes = append(res.Nodes, node)
	return node
}
