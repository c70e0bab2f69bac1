package driver

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arenactl/internal/build"
	"arenactl/internal/domain"
)

type fakeRunner struct {
	mu        sync.Mutex
	argsByDir map[string][]string

	active  int32
	maxSeen int32
	delay   time.Duration
	block   bool
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args []string, _ string) error {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}

	f.mu.Lock()
	if f.argsByDir == nil {
		f.argsByDir = make(map[string][]string)
	}
	f.argsByDir[dir] = args
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return nil
}

type fakeArtifacts struct{}

func (fakeArtifacts) Ensure(_ context.Context, agent domain.AgentDescriptor, pos domain.SpawnPosition) (build.Artifact, error) {
	return build.Artifact{Path: "/blobs/" + agent.ID + "_" + strings.ToLower(string(pos)) + ".blob", Size: 16}, nil
}

func testAgents() []domain.AgentDescriptor {
	return []domain.AgentDescriptor{
		{ID: "runner", Kind: domain.AgentKindBuiltin, Source: "runner"},
		{ID: "hunter", Kind: domain.AgentKindSource, Source: "hunter.asm", HeaderSize: 16},
		{ID: "champ", Kind: domain.AgentKindBlob, Source: "/prebuilt/champ.blob", HeaderSize: 8},
	}
}

func newTestDriver(t *testing.T, runner Runner, cfg Config) *Driver {
	t.Helper()
	return New(runner, fakeArtifacts{}, testAgents(), domain.DefaultMatchParams(), t.TempDir(), cfg, nil)
}

func argsFor(t *testing.T, f *fakeRunner, execs []Execution, task domain.MatchTask) []string {
	t.Helper()
	for _, e := range execs {
		if e.Task == task {
			f.mu.Lock()
			defer f.mu.Unlock()
			args, ok := f.argsByDir[e.Dir]
			if !ok {
				t.Fatalf("no recorded args for %s", e.Dir)
			}
			return args
		}
	}
	t.Fatalf("task %+v not in executions", task)
	return nil
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgsBuiltinVsBlob(t *testing.T) {
	f := &fakeRunner{}
	d := newTestDriver(t, f, Config{Workers: 1})

	task := domain.MatchTask{Seed: 7, Side: domain.SideNormal, AgentX: "runner", AgentY: "hunter"}
	execs := d.RunAll(context.Background(), "roundrobin", []domain.MatchTask{task})
	args := argsFor(t, f, execs, task)

	if got := argValue(args, "--seed"); got != "7" {
		t.Fatalf("--seed=%s want=7", got)
	}
	if got := argValue(args, "--a-type"); got != "runner" {
		t.Fatalf("--a-type=%s want=runner", got)
	}
	if got := argValue(args, "--a-start"); got != "128" {
		t.Fatalf("--a-start=%s want=128", got)
	}
	// builtin has no pointer flag
	if got := argValue(args, "--a-ptr"); got != "" {
		t.Fatalf("--a-ptr=%s want absent", got)
	}

	if got := argValue(args, "--b-blob"); got != "/blobs/hunter_b.blob" {
		t.Fatalf("--b-blob=%s", got)
	}
	if got := argValue(args, "--b-start"); got != "2048" {
		t.Fatalf("--b-start=%s want=2048", got)
	}
	// pointer = spawn offset + header size
	if got := argValue(args, "--b-ptr"); got != "2064" {
		t.Fatalf("--b-ptr=%s want=2064", got)
	}
}

func TestBuildArgsSwappedPlacement(t *testing.T) {
	f := &fakeRunner{}
	d := newTestDriver(t, f, Config{Workers: 1})

	task := domain.MatchTask{Seed: 1, Side: domain.SideSwapped, AgentX: "runner", AgentY: "hunter"}
	execs := d.RunAll(context.Background(), "roundrobin", []domain.MatchTask{task})
	args := argsFor(t, f, execs, task)

	// swapped: AgentY (hunter) takes role A / PositionA
	if got := argValue(args, "--a-blob"); got != "/blobs/hunter_a.blob" {
		t.Fatalf("--a-blob=%s", got)
	}
	if got := argValue(args, "--a-ptr"); got != "144" {
		t.Fatalf("--a-ptr=%s want=144", got)
	}
	if got := argValue(args, "--b-type"); got != "runner" {
		t.Fatalf("--b-type=%s want=runner", got)
	}
}

func TestVisualizationForcedOffWithPool(t *testing.T) {
	task := domain.MatchTask{Seed: 1, Side: domain.SideNormal, AgentX: "runner", AgentY: "champ"}

	f := &fakeRunner{}
	d := newTestDriver(t, f, Config{Workers: 1, Visualize: true})
	execs := d.RunAll(context.Background(), "roundrobin", []domain.MatchTask{task})
	args := argsFor(t, f, execs, task)
	if !hasFlag(args, "--pygame") {
		t.Fatalf("single worker with visualize should pass --pygame")
	}

	f = &fakeRunner{}
	d = newTestDriver(t, f, Config{Workers: 4, Visualize: true})
	execs = d.RunAll(context.Background(), "roundrobin", []domain.MatchTask{task})
	args = argsFor(t, f, execs, task)
	if hasFlag(args, "--pygame") {
		t.Fatalf("pool size > 1 must suppress --pygame")
	}

	f = &fakeRunner{}
	d = newTestDriver(t, f, Config{Workers: 1, Visualize: true, Headless: true})
	execs = d.RunAll(context.Background(), "roundrobin", []domain.MatchTask{task})
	args = argsFor(t, f, execs, task)
	if hasFlag(args, "--pygame") {
		t.Fatalf("headless engine must never get --pygame")
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func TestRunAllBoundsConcurrencyAndKeepsOrder(t *testing.T) {
	f := &fakeRunner{delay: 10 * time.Millisecond}
	d := newTestDriver(t, f, Config{Workers: 3})

	var tasks []domain.MatchTask
	for seed := 1; seed <= 10; seed++ {
		tasks = append(tasks,
			domain.MatchTask{Seed: seed, Side: domain.SideNormal, AgentX: "runner", AgentY: "hunter"},
			domain.MatchTask{Seed: seed, Side: domain.SideSwapped, AgentX: "runner", AgentY: "hunter"},
		)
	}

	execs := d.RunAll(context.Background(), "roundrobin", tasks)
	if len(execs) != len(tasks) {
		t.Fatalf("executions=%d want=%d", len(execs), len(tasks))
	}
	for i, e := range execs {
		if e.Task != tasks[i] {
			t.Fatalf("result %d out of order: got %+v want %+v", i, e.Task, tasks[i])
		}
		if e.ExitErr != "" || e.TimedOut {
			t.Fatalf("unexpected failure for %s: %+v", e.Task.Tag(), e)
		}
	}
	if max := atomic.LoadInt32(&f.maxSeen); max > 3 {
		t.Fatalf("observed %d concurrent runs, pool size is 3", max)
	}
}

func TestRunAllClassifiesTimeout(t *testing.T) {
	f := &fakeRunner{block: true}
	d := newTestDriver(t, f, Config{Workers: 1, MatchTimeout: 30 * time.Millisecond})

	task := domain.MatchTask{Seed: 1, Side: domain.SideNormal, AgentX: "runner", AgentY: "hunter"}
	execs := d.RunAll(context.Background(), "roundrobin", []domain.MatchTask{task})
	if !execs[0].TimedOut {
		t.Fatalf("expected timeout classification, got %+v", execs[0])
	}
}

func TestRunAllRecordsExitErrorWithoutAborting(t *testing.T) {
	f := &failingRunner{}
	d := New(f, fakeArtifacts{}, testAgents(), domain.DefaultMatchParams(), t.TempDir(), Config{Workers: 2}, nil)

	tasks := []domain.MatchTask{
		{Seed: 1, Side: domain.SideNormal, AgentX: "runner", AgentY: "hunter"},
		{Seed: 1, Side: domain.SideSwapped, AgentX: "runner", AgentY: "hunter"},
	}
	execs := d.RunAll(context.Background(), "roundrobin", tasks)
	for _, e := range execs {
		if e.ExitErr == "" {
			t.Fatalf("expected recorded exit error for %s", e.Task.Tag())
		}
		if e.TimedOut {
			t.Fatalf("exit failure must not classify as timeout")
		}
	}
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, string, []string, string) error {
	return context.Canceled
}
