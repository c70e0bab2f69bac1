package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"arenactl/internal/aggregate"
	"arenactl/internal/build"
	"arenactl/internal/config"
	"arenactl/internal/domain"
	"arenactl/internal/driver"
	"arenactl/internal/roster"
	sqlitestore "arenactl/internal/store/sqlite"
	"arenactl/internal/tournament"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "report":
		reportCommand(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: arenactl <run|report> [flags]")
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml (default: ~/.arenactl/config.toml)")
	rosterFlag := fs.String("roster", "", "roster file override")
	outFlag := fs.String("out", "", "output directory override")
	dbFlag := fs.String("db", "", "sqlite database path override")
	engineFlag := fs.String("engine", "", "match engine binary override")
	asmFlag := fs.String("assembler", "", "assembler binary override")
	seedsFlag := fs.String("seeds", "", `seed set, e.g. "1..8" or "3,7,11"`)
	workersFlag := fs.Int("workers", 0, "worker pool size override")
	timeoutFlag := fs.Int("timeout-ms", 0, "per-match timeout override in milliseconds")
	vizFlag := fs.Bool("viz", false, "enable engine visualization (single worker only)")
	bracketFlag := fs.Bool("bracket", false, "play the top-four bracket after the round-robin")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	rosterPath := firstNonEmpty(*rosterFlag, cfg.RosterPath, "roster.txt")
	outDir := filepath.Clean(firstNonEmpty(*outFlag, cfg.OutDir, "out"))
	dbPath := filepath.Clean(firstNonEmpty(*dbFlag, cfg.DBPath, "data/arenactl.db"))
	engineBinary := firstNonEmpty(*engineFlag, cfg.EngineBinary)
	asmBinary := firstNonEmpty(*asmFlag, cfg.AssemblerBinary)
	if engineBinary == "" {
		log.Fatalf("match engine binary is required (-engine or engine_binary in config)")
	}

	seeds, err := parseSeeds(firstNonEmpty(*seedsFlag, cfg.Seeds, "1..3"))
	if err != nil {
		log.Fatalf("parse seeds: %v", err)
	}

	ros, err := roster.Load(rosterPath)
	if err != nil {
		log.Fatalf("load roster: %v", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("create output directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	if cfg.Engine.Contract != 0 && cfg.Engine.Contract != driver.EngineContract {
		log.Fatalf("engine declares contract %d, this build speaks contract %d", cfg.Engine.Contract, driver.EngineContract)
	}

	params := matchParams(cfg.Engine)
	cache := build.NewCache(
		build.CLICompiler{Binary: asmBinary},
		filepath.Join(outDir, "build"),
		params,
		log.Default(),
	)

	workers := *workersFlag
	if workers <= 0 {
		workers = intOrDefault(cfg.Workers, 1)
	}
	drv := driver.New(
		driver.EngineRunner{Binary: engineBinary},
		cache,
		ros.Agents(),
		params,
		outDir,
		driver.Config{
			Workers:      workers,
			MatchTimeout: durationMS(firstPositive(*timeoutFlag, cfg.MatchTimeoutMS), 2*time.Minute),
			Visualize:    *vizFlag || cfg.Visualize,
			Headless:     cfg.Engine.Headless,
		},
		log.Default(),
	)

	svc := tournament.New(store, cache, drv, tournament.Config{
		OutDir:  outDir,
		Seeds:   seeds,
		Bracket: *bracketFlag || cfg.Bracket,
	}, log.Default())

	log.Printf("arenactl run roster=%s out=%s db=%s seeds=%d workers=%d", rosterPath, outDir, dbPath, len(seeds), workers)
	run, err := svc.Execute(ctx, ros)
	if err != nil {
		log.Fatalf("run %s failed: %v", run.ID, err)
	}
	if run.Champion != "" {
		log.Printf("run %s done, champion %s", run.ID, run.Champion)
	} else {
		log.Printf("run %s done", run.ID)
	}
}

func reportCommand(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml (default: ~/.arenactl/config.toml)")
	dbFlag := fs.String("db", "", "sqlite database path override")
	runFlag := fs.String("run", "", "run id (default: most recent)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	dbPath := filepath.Clean(firstNonEmpty(*dbFlag, cfg.DBPath, "data/arenactl.db"))

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	var run domain.Run
	if *runFlag != "" {
		run, err = store.GetRun(ctx, *runFlag)
	} else {
		run, err = store.LatestRun(ctx)
	}
	if err != nil {
		log.Fatalf("load run: %v", err)
	}

	fmt.Printf("run %s status=%s agents=%d seeds=%v\n", run.ID, run.Status, len(run.Agents), run.Seeds)
	if run.LastError != "" {
		fmt.Printf("last error: %s\n", run.LastError)
	}

	records, err := store.ListMatchRecords(ctx, run.ID, 0)
	if err != nil {
		log.Fatalf("load match records: %v", err)
	}
	byOutcome := make(map[domain.MatchOutcome]int)
	roundRobin := make([]domain.MatchRecord, 0, len(records))
	for _, rec := range records {
		byOutcome[rec.Outcome]++
		if rec.Stage == tournament.StageRoundRobin {
			roundRobin = append(roundRobin, rec)
		}
	}
	fmt.Printf("matches: %d total", len(records))
	for _, outcome := range []domain.MatchOutcome{
		domain.OutcomeCompleted, domain.OutcomeCrashed,
		domain.OutcomeMissingSummary, domain.OutcomeMalformedSummary,
	} {
		if n := byOutcome[outcome]; n > 0 {
			fmt.Printf(" %s=%d", outcome, n)
		}
	}
	fmt.Println()

	// re-aggregate standings from the stored records and refresh the
	// leaderboard files in the run's output tree
	rows := aggregate.Standings(roundRobin, run.Agents)
	for _, row := range rows {
		fmt.Printf("%-16s gp=%d w=%d l=%d t=%d winrate=%.3f\n",
			row.AgentID, row.Games, row.Wins, row.Losses, row.Ties, row.WinRate)
	}
	if run.OutDir != "" {
		if err := aggregate.WriteLeaderboardCSV(filepath.Join(run.OutDir, "leaderboard.csv"), rows); err != nil {
			log.Printf("rewrite leaderboard.csv: %v", err)
		}
		if err := aggregate.WriteLeaderboardMarkdown(filepath.Join(run.OutDir, "leaderboard.md"), rows); err != nil {
			log.Printf("rewrite leaderboard.md: %v", err)
		}
	}

	nodes, err := store.ListBracketNodes(ctx, run.ID)
	if err != nil {
		log.Fatalf("load bracket: %v", err)
	}
	for _, node := range nodes {
		if node.Skipped != "" {
			fmt.Printf("%s: skipped (%s)\n", node.Stage, node.Skipped)
			continue
		}
		result := "drawn"
		if node.Winner != "" {
			result = node.Winner + " advances"
		}
		fmt.Printf("%s: %s %d-%d %s, %s\n", node.Stage, node.AgentX, node.WinsX, node.WinsY, node.AgentY, result)
	}
	if run.Champion != "" {
		fmt.Printf("champion: %s\n", run.Champion)
	}

	events, err := store.ListRunEvents(ctx, run.ID, 50)
	if err != nil {
		log.Fatalf("load events: %v", err)
	}
	for _, ev := range events {
		fmt.Printf("%s %s %s %s\n", ev.CreatedAt.Format(time.RFC3339), ev.Kind, ev.AgentID, ev.Detail)
	}
}

// loadConfig tolerates a missing default config file; an explicitly named
// one must load.
func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if path != "" {
			log.Fatalf("load config: %v", err)
		}
		return config.Config{}
	}
	return cfg
}

func matchParams(engine config.EngineConfig) domain.MatchParams {
	params := domain.DefaultMatchParams()
	params.ArenaSize = intOrDefault(engine.ArenaSize, params.ArenaSize)
	params.TickBudget = intOrDefault(engine.TickBudget, params.TickBudget)
	params.WinMode = firstNonEmpty(engine.WinMode, params.WinMode)
	params.TerritoryWeight = intOrDefault(engine.TerritoryWeight, params.TerritoryWeight)
	params.TerritoryBucket = intOrDefault(engine.TerritoryBucket, params.TerritoryBucket)
	params.SpawnOffsetA = intOrDefault(engine.SpawnOffsetA, params.SpawnOffsetA)
	params.SpawnOffsetB = intOrDefault(engine.SpawnOffsetB, params.SpawnOffsetB)
	return params
}

// parseSeeds accepts either an inclusive range "lo..hi" or a comma list.
func parseSeeds(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if lo, hi, ok := strings.Cut(spec, ".."); ok {
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("range start %q: %w", lo, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("range end %q: %w", hi, err)
		}
		if end < start {
			return nil, fmt.Errorf("empty range %s", spec)
		}
		seeds := make([]int, 0, end-start+1)
		for v := start; v <= end; v++ {
			seeds = append(seeds, v)
		}
		return seeds, nil
	}

	parts := strings.Split(spec, ",")
	seeds := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", part, err)
		}
		seeds = append(seeds, v)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seeds in %q", spec)
	}
	return seeds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
