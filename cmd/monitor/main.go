package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"arenactl/internal/aggregate"
	"arenactl/internal/domain"
	sqlitestore "arenactl/internal/store/sqlite"
	"arenactl/internal/tournament"
)

func main() {
	dbPath := flag.String("db", "data/arenactl.db", "sqlite database path")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	store, err := sqlitestore.Open(filepath.Clean(*dbPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open sqlite store: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()
	if err := store.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate sqlite: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Runs (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	standingsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	standingsView.SetTitle("Standings").SetBorder(true)

	bracketView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	bracketView.SetTitle("Bracket").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Events").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Watching %s | shortcuts: F10 quit, F5 refresh", *dbPath))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(standingsView, 0, 2, false).
		AddItem(bracketView, 8, 0, false).
		AddItem(eventsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(runsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(statusView, 3, 0, false)

	var selectedRunID string
	var lastRuns []domain.Run

	refreshRuns := func() {
		runs, err := store.ListRuns(context.Background())
		if err != nil {
			app.QueueUpdateDraw(func() {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastRuns = runs
		app.QueueUpdateDraw(func() {
			renderRunsTable(runsTable, runs, selectedRunID)
		})
	}

	refreshDetails := func(runID string) {
		if strings.TrimSpace(runID) == "" {
			return
		}
		go func(selected string) {
			ctx := context.Background()
			run, err := store.GetRun(ctx, selected)
			if err != nil {
				return
			}
			records, recordsErr := store.ListMatchRecords(ctx, selected, 0)
			nodes, nodesErr := store.ListBracketNodes(ctx, selected)
			events, eventsErr := store.ListRunEvents(ctx, selected, 100)

			app.QueueUpdateDraw(func() {
				if selected != selectedRunID {
					return
				}
				if recordsErr != nil {
					standingsView.SetText(fmt.Sprintf("error: %v", recordsErr))
				} else {
					standingsView.SetText(renderStandings(run, records))
				}
				if nodesErr != nil {
					bracketView.SetText(fmt.Sprintf("error: %v", nodesErr))
				} else {
					bracketView.SetText(renderBracket(run, nodes))
				}
				if eventsErr != nil {
					eventsView.SetText(fmt.Sprintf("error: %v", eventsErr))
				} else {
					eventsView.SetText(renderEvents(events))
				}
			})
		}(runID)
	}

	runsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastRuns) {
			return
		}
		selectedRunID = lastRuns[row-1].ID
		refreshDetails(selectedRunID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			refreshRuns()
			refreshDetails(selectedRunID)
			statusView.SetText("Manual refresh complete")
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshRuns()
		if len(lastRuns) > 0 {
			selectedRunID = lastRuns[0].ID
			refreshDetails(selectedRunID)
		}

		for range ticker.C {
			refreshRuns()
			if selectedRunID == "" && len(lastRuns) > 0 {
				selectedRunID = lastRuns[0].ID
			}
			refreshDetails(selectedRunID)
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(runsTable).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func renderRunsTable(table *tview.Table, runs []domain.Run, selectedRunID string) {
	table.Clear()
	headers := []string{"Run", "Status", "Agents", "Updated", "Champion"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(r.Status)))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", len(r.Agents))))
		table.SetCell(row, 3, tview.NewTableCell(r.UpdatedAt.Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(r.Champion))
		if r.ID == selectedRunID {
			table.Select(row, 0)
		}
	}
}

func renderStandings(run domain.Run, records []domain.MatchRecord) string {
	roundRobin := make([]domain.MatchRecord, 0, len(records))
	for _, rec := range records {
		if rec.Stage == tournament.StageRoundRobin {
			roundRobin = append(roundRobin, rec)
		}
	}
	if len(roundRobin) == 0 {
		return "No matches yet"
	}
	rows := aggregate.Standings(roundRobin, run.Agents)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-16s %4s %3s %3s %3s %8s %8s\n", "agent", "gp", "w", "l", "t", "winrate", "scorediff"))
	for _, row := range rows {
		b.WriteString(fmt.Sprintf(
			"%-16s %4d %3d %3d %3d %8.3f %8.2f\n",
			trimLine(row.AgentID, 16), row.Games, row.Wins, row.Losses, row.Ties, row.WinRate, row.AvgScoreDiff,
		))
	}
	return b.String()
}

func renderBracket(run domain.Run, nodes []domain.BracketNode) string {
	if len(nodes) == 0 {
		return "No bracket"
	}
	var b strings.Builder
	for _, node := range nodes {
		if node.Skipped != "" {
			b.WriteString(fmt.Sprintf("%-12s skipped (%s)\n", node.Stage, node.Skipped))
			continue
		}
		result := "drawn"
		if node.Winner != "" {
			result = node.Winner + " advances"
		}
		b.WriteString(fmt.Sprintf("%-12s %s %d-%d %s  %s\n", node.Stage, node.AgentX, node.WinsX, node.WinsY, node.AgentY, result))
	}
	if run.Champion != "" {
		b.WriteString("champion: " + run.Champion + "\n")
	}
	return b.String()
}

func renderEvents(events []domain.RunEvent) string {
	if len(events) == 0 {
		return "No events"
	}
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(fmt.Sprintf("[%s] %s", ev.CreatedAt.Format("15:04:05"), ev.Kind))
		if ev.AgentID != "" {
			b.WriteString(" agent=" + ev.AgentID)
		}
		if ev.Detail != "" {
			b.WriteString("  " + trimLine(ev.Detail, 96))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
