package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/store"
)

// runDiag prints a one-shot operator snapshot of every configured
// instance's position/trader counts without starting any control loop,
// the diagnostics surface spec §6's CLI section implies an operator
// needs alongside the long-running mirror process.
func runDiag(cfg *config.Config, db *store.Store) int {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"instance", "enabled", "mode", "active positions", "copied", "traders tracked"})

	for _, name := range []string{"x1", "x2", "x3"} {
		ic, ok := cfg.Instances[name]
		if !ok {
			continue
		}
		instance := domain.Instance(name)

		positions, err := db.Positions(instance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mirror diag: %s: %v\n", name, err)
			return 1
		}
		active, err := positions.Active()
		if err != nil {
			fmt.Fprintf(os.Stderr, "mirror diag: %s: %v\n", name, err)
			return 1
		}
		copied := 0
		for _, p := range active {
			if p.IsCopied {
				copied++
			}
		}

		stats, err := db.Stats(instance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mirror diag: %s: %v\n", name, err)
			return 1
		}
		allKC, err := stats.AllKC()
		if err != nil {
			fmt.Fprintf(os.Stderr, "mirror diag: %s: %v\n", name, err)
			return 1
		}

		table.Append([]string{
			name,
			fmt.Sprintf("%v", ic.Enabled),
			ic.Mode,
			fmt.Sprintf("%d", len(active)),
			fmt.Sprintf("%d", copied),
			fmt.Sprintf("%d", len(allKC)),
		})
	}

	table.Render()
	return 0
}
