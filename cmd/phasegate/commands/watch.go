package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/phasegate/internal/telemetry"
	"github.com/marcus/phasegate/internal/ui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of active cycles and trust scores",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isInteractive() {
		return fmt.Errorf("watch requires an interactive terminal")
	}

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := ui.New()
	if cycles, trust, err := collectDashboard(ctx, e); err == nil {
		model.SetCycles(cycles)
		model.SetTrust(trust)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cycles, trust, err := collectDashboard(ctx, e)
				if err != nil {
					continue
				}
				p.Send(ui.RefreshMsg{Cycles: cycles, Trust: trust})
			}
		}
	}()

	_, err = p.Run()
	return err
}

// collectDashboard assembles the dashboard snapshot from the shared database.
func collectDashboard(ctx context.Context, e *engine) ([]ui.CycleItem, []ui.TrustItem, error) {
	tasks, err := e.registry.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	states, err := e.state.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	leases, err := e.leases.Leases(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := e.trust.Scores(ctx)
	if err != nil {
		return nil, nil, err
	}

	holders := make(map[string]string, len(leases))
	for _, l := range leases {
		holders[l.TaskID+"/"+l.Phase.String()] = l.Holder
	}

	cycles := make([]ui.CycleItem, 0, len(tasks))
	for _, task := range tasks {
		item := ui.CycleItem{
			TaskID: task.ID,
			Title:  task.Title,
			Status: task.Status,
		}
		if ph, ok := states[task.ID]; ok {
			item.Phase = ph
			item.HeldBy = holders[task.ID+"/"+ph.String()]
		}
		cycles = append(cycles, item)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].TaskID < cycles[j].TaskID })

	sort.Slice(records, func(i, j int) bool {
		return records[i].Phase.Index() < records[j].Phase.Index()
	})
	trustItems := make([]ui.TrustItem, 0, len(records))
	for _, rec := range records {
		trustItems = append(trustItems, ui.TrustItem{
			Phase:     rec.Phase,
			Trust:     rec.Trust,
			Successes: rec.Successes,
			Failures:  rec.Failures,
		})
	}
	return cycles, trustItems, nil
}
