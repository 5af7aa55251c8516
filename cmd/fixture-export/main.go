// Command fixture-export writes a learner's applied history as a replay
// fixture. The exported file pins today's reducer output as the regression
// baseline for cmd/replay.
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
	dbPath := flag.String("db", "", "path to learner_state.db")
	org := flag.String("org", "", "organization id")
	learner := flag.String("learner", "", "learner id")
	outPath := flag.String("out", "", "output fixture JSON path")
	last := flag.Int("last", 0, "export only the last N applies (0 = all)")
	flag.Parse()

	if *dbPath == "" || *org == "" || *learner == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/learner_state.db --org org --learner learner --out path/to/fixture.json [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *org, *learner, *outPath, *last); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(dbPath, org, learner, outPath string, last int) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	f, err := replay.FromStore(context.Background(), store.DB(), org, learner, last)
	if err != nil {
		return err
	}

	if err := replay.Save(f, outPath); err != nil {
		return err
	}

	fmt.Printf("Wrote fixture to %s (%d steps)\n", outPath, len(f.Steps))
	fmt.Println(f.Description)
	return nil
}

// #endregion export
