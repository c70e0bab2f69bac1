package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"arenactl/internal/build"
	"arenactl/internal/domain"
)

// Runner executes one prepared engine invocation to completion. The exit
// status is advisory only; classification happens later from the result file.
type Runner interface {
	Run(ctx context.Context, dir string, args []string, logPath string) error
}

// EngineRunner shells out to the external match engine. The engine writes
// summary.json into its working directory; stdout and stderr are captured
// into the task's log file.
type EngineRunner struct {
	Binary string
}

func (r EngineRunner) Run(ctx context.Context, dir string, args []string, logPath string) error {
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create engine log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	return cmd.Run()
}

// ArtifactSource resolves the specialized binary for a non-builtin agent.
// During dispatch the build phase is already complete, so lookups are
// read-only cache hits.
type ArtifactSource interface {
	Ensure(ctx context.Context, agent domain.AgentDescriptor, pos domain.SpawnPosition) (build.Artifact, error)
}

// EngineContract is the engine argv contract this driver speaks. Deployments
// declare the installed engine's contract in config; nothing is inferred from
// the engine's own diagnostics or help output.
const EngineContract = 1

// Config holds the driver knobs. Zero values fall back to safe defaults.
type Config struct {
	Workers      int
	MatchTimeout time.Duration
	Visualize    bool
	Headless     bool // engine build declared without the --pygame flag
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = 2 * time.Minute
	}
	return c
}

// Execution is the raw result of dispatching one task: where its output
// landed plus any process-level failure. Match classification is the
// aggregator's job.
type Execution struct {
	Task     domain.MatchTask
	Dir      string
	TimedOut bool
	ExitErr  string
}

type Driver struct {
	runner    Runner
	artifacts ArtifactSource
	agents    map[string]domain.AgentDescriptor
	params    domain.MatchParams
	outRoot   string
	cfg       Config
	logger    *log.Logger
}

func New(
	runner Runner,
	artifacts ArtifactSource,
	agents []domain.AgentDescriptor,
	params domain.MatchParams,
	outRoot string,
	cfg Config,
	logger *log.Logger,
) *Driver {
	if logger == nil {
		logger = log.Default()
	}
	byID := make(map[string]domain.AgentDescriptor, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return &Driver{
		runner:    runner,
		artifacts: artifacts,
		agents:    byID,
		params:    params,
		outRoot:   outRoot,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// RunAll dispatches every task across the worker pool and blocks until all
// of them reach a terminal state. The returned slice is in task order
// regardless of which worker finished first. Visualization is forced off
// whenever more than one worker runs.
func (d *Driver) RunAll(ctx context.Context, stage string, tasks []domain.MatchTask) []Execution {
	visualize := d.cfg.Visualize
	if visualize && d.cfg.Headless {
		d.logger.Printf("visualization disabled: engine declared headless")
		visualize = false
	}
	if d.cfg.Workers > 1 && visualize {
		d.logger.Printf("visualization disabled: worker pool size %d", d.cfg.Workers)
		visualize = false
	}

	type job struct {
		idx  int
		task domain.MatchTask
	}
	jobs := make(chan job)
	results := make([]Execution, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < d.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.idx] = d.runOne(ctx, stage, j.task, visualize)
			}
		}()
	}
	for i, task := range tasks {
		jobs <- job{idx: i, task: task}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (d *Driver) runOne(ctx context.Context, stage string, task domain.MatchTask, visualize bool) Execution {
	exe := Execution{Task: task, Dir: filepath.Join(d.outRoot, stage, task.Tag())}
	if err := os.MkdirAll(exe.Dir, 0o755); err != nil {
		exe.ExitErr = fmt.Sprintf("create task directory: %v", err)
		return exe
	}

	args, err := d.buildArgs(ctx, task, visualize)
	if err != nil {
		exe.ExitErr = fmt.Sprintf("build invocation: %v", err)
		return exe
	}
	if err := os.WriteFile(filepath.Join(exe.Dir, "args.txt"), []byte(strings.Join(args, "\n")+"\n"), 0o644); err != nil {
		d.logger.Printf("write args file task=%s: %v", task.Tag(), err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.MatchTimeout)
	defer cancel()

	start := time.Now()
	runErr := d.runner.Run(runCtx, exe.Dir, args, filepath.Join(exe.Dir, "engine.log"))
	elapsed := time.Since(start)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			exe.TimedOut = true
			exe.ExitErr = fmt.Sprintf("match timed out after %s", d.cfg.MatchTimeout)
			d.logger.Printf("match timeout task=%s elapsed=%s", task.Tag(), elapsed.Round(time.Millisecond))
			return exe
		}
		exe.ExitErr = runErr.Error()
		d.logger.Printf("engine exit error task=%s: %v", task.Tag(), runErr)
	}
	return exe
}

// buildArgs assembles the engine argv for one task. Placement follows the
// side mode: Normal puts AgentX in role A at PositionA, Swapped reverses it.
func (d *Driver) buildArgs(ctx context.Context, task domain.MatchTask, visualize bool) ([]string, error) {
	roleA, roleB := task.AgentX, task.AgentY
	if task.Side == domain.SideSwapped {
		roleA, roleB = task.AgentY, task.AgentX
	}

	args := []string{
		"--arena", strconv.Itoa(d.params.ArenaSize),
		"--ticks", strconv.Itoa(d.params.TickBudget),
		"--win-mode", d.params.WinMode,
		"--territory-w", strconv.Itoa(d.params.TerritoryWeight),
		"--territory-bucket", strconv.Itoa(d.params.TerritoryBucket),
		"--seed", strconv.Itoa(task.Seed),
	}

	sideA, err := d.sideArgs(ctx, "a", roleA, domain.PositionA)
	if err != nil {
		return nil, err
	}
	sideB, err := d.sideArgs(ctx, "b", roleB, domain.PositionB)
	if err != nil {
		return nil, err
	}
	args = append(args, sideA...)
	args = append(args, sideB...)

	if visualize {
		args = append(args, "--pygame")
	}
	return args, nil
}

// sideArgs resolves one side's placement flags. The pointer offset is the
// spawn offset plus the loader header size; builtins carry no header so
// their pointer equals the spawn offset.
func (d *Driver) sideArgs(ctx context.Context, prefix, agentID string, pos domain.SpawnPosition) ([]string, error) {
	agent, ok := d.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not in roster", agentID)
	}
	offset := d.params.SpawnOffset(pos)

	switch agent.Kind {
	case domain.AgentKindBuiltin:
		return []string{
			"--" + prefix + "-type", agent.Source,
			"--" + prefix + "-start", strconv.Itoa(offset),
		}, nil
	case domain.AgentKindSource, domain.AgentKindBlob:
		art, err := d.artifacts.Ensure(ctx, agent, pos)
		if err != nil {
			return nil, fmt.Errorf("resolve artifact for %s: %w", agentID, err)
		}
		return []string{
			"--" + prefix + "-blob", art.Path,
			"--" + prefix + "-start", strconv.Itoa(offset),
			"--" + prefix + "-ptr", strconv.Itoa(offset + agent.HeaderSize),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported agent kind %s for %s", agent.Kind, agentID)
	}
}
