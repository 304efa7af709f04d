package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/phasegate/internal/telemetry"
	"github.com/marcus/phasegate/internal/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Show per-phase trust scores",
	RunE:  runTrust,
}

func init() {
	rootCmd.AddCommand(trustCmd)
}

func runTrust(cmd *cobra.Command, args []string) error {
	configureColor()

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	records, err := e.trust.Scores(context.Background())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(styleMuted.Render("no trust records yet"))
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Phase.Index() < records[j].Phase.Index()
	})

	fmt.Printf("%-12s %-8s %-6s %-6s %s\n", "PHASE", "TRUST", "PASS", "FAIL", "TOP FAILING GATES")
	for _, rec := range records {
		score := fmt.Sprintf("%.3f", rec.Trust)
		switch {
		case rec.Trust < 0.3:
			score = styleError.Render(score)
		case rec.Trust < 0.6:
			score = styleWarn.Render(score)
		default:
			score = styleOK.Render(score)
		}
		fmt.Printf("%-12s %-8s %-6d %-6d %s\n",
			rec.Phase, score, rec.Successes, rec.Failures, topPatterns(rec))
	}
	return nil
}

// topPatterns summarizes the most frequent failing gates for a record.
func topPatterns(rec trust.Record) string {
	if len(rec.FailurePatterns) == 0 {
		return "-"
	}
	type pattern struct {
		gate  string
		count int
	}
	patterns := make([]pattern, 0, len(rec.FailurePatterns))
	for gate, count := range rec.FailurePatterns {
		patterns = append(patterns, pattern{gate, count})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].count != patterns[j].count {
			return patterns[i].count > patterns[j].count
		}
		return patterns[i].gate < patterns[j].gate
	})
	if len(patterns) > 3 {
		patterns = patterns[:3]
	}
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = fmt.Sprintf("%s(%d)", p.gate, p.count)
	}
	return strings.Join(parts, ", ")
}
