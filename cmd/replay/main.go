// Command replay re-runs recorded signal folds through the reducer and
// compares against the recorded states. A divergence means the reducer or
// guard no longer produces the history the database holds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/learner-state/internal/replay"
	"github.com/danielpatrickdp/learner-state/internal/state"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to learner_state.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	org := flag.String("org", "", "organization id (DB mode)")
	learner := flag.String("learner", "", "learner id (DB mode)")
	last := flag.Int("last", 0, "replay only the last N applies (DB mode)")
	verbose := flag.Bool("verbose", false, "print matching steps too")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --db path/to/learner_state.db --org org --learner learner [--last N]")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath, *verbose)
	} else {
		if *org == "" || *learner == "" {
			fmt.Fprintln(os.Stderr, "DB mode requires --org and --learner")
			os.Exit(2)
		}
		exitCode = runDBMode(*dbPath, *org, *learner, *last, *verbose)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region modes

func runFixtureMode(path string, verbose bool) int {
	f, err := replay.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	return report(f, replay.Run(f), verbose)
}

func runDBMode(dbPath, org, learner string, last int, verbose bool) int {
	store, err := state.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	f, err := replay.FromStore(context.Background(), store.DB(), org, learner, last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild fixture: %v\n", err)
		return 2
	}
	return report(f, replay.Run(f), verbose)
}

// #endregion modes

// #region output

// report prints diverged steps (every step with --verbose) plus a summary,
// and returns the process exit code.
func report(f *replay.Fixture, results []replay.Result, verbose bool) int {
	if f.Description != "" {
		fmt.Println(f.Description)
	}

	fmt.Printf("%-6s  %-24s  %-6s  %s\n", "Step", "Signal", "Match", "Diff")
	fmt.Printf("%-6s  %-24s  %-6s  %s\n", "------", "------------------------", "------", "--------------------")
	for _, r := range results {
		if r.Match && !verbose {
			continue
		}
		status := "DIFF"
		if r.Match {
			status = "OK"
		}
		fmt.Printf("%-6d  %-24s  %-6s  %s\n", r.Step, shortID(r.SignalID), status, r.Diff)
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", s.Total, s.Matched, s.Diverged)

	if s.Diverged > 0 {
		return 1
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 24 {
		return id[:24]
	}
	return id
}

// #endregion output
