package schedule

import (
	"arenactl/internal/domain"
)

// Generate expands a roster and seed set into the full symmetric round-robin
// task list. Every unordered pair {X, Y}, with X before Y in roster order,
// plays each seed twice: once Normal and once Swapped, cancelling spawn bias.
//
// Ordering is pair-major: pairs in roster order, seeds ascending inside a
// pair, Normal before Swapped. The order is stable across runs so logs and
// output trees line up between reruns.
func Generate(agentIDs []string, seeds []int) []domain.MatchTask {
	n := len(agentIDs)
	if n < 2 || len(seeds) == 0 {
		return nil
	}
	tasks := make([]domain.MatchTask, 0, n*(n-1)*len(seeds))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			tasks = append(tasks, Pair(agentIDs[i], agentIDs[j], seeds)...)
		}
	}
	return tasks
}

// Pair emits the balanced mini-schedule for a single pairing: both side
// modes for every seed. The bracket stage reuses this for its head-to-head
// series.
func Pair(agentX, agentY string, seeds []int) []domain.MatchTask {
	tasks := make([]domain.MatchTask, 0, 2*len(seeds))
	for _, seed := range seeds {
		tasks = append(tasks,
			domain.MatchTask{Seed: seed, Side: domain.SideNormal, AgentX: agentX, AgentY: agentY},
			domain.MatchTask{Seed: seed, Side: domain.SideSwapped, AgentX: agentX, AgentY: agentY},
		)
	}
	return tasks
}
