package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/phasegate/internal/ledger"
	"github.com/marcus/phasegate/internal/phase"
	"github.com/marcus/phasegate/internal/registry"
	"github.com/marcus/phasegate/internal/sequencer"
	"github.com/marcus/phasegate/internal/telemetry"
)

var (
	cycleTitle     string
	cycleHolder    string
	cycleTo        string
	cycleDigest    string
	cycleAgentType string
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Manage task lifecycle cycles",
}

var cycleStartCmd = &cobra.Command{
	Use:   "start TASK_ID",
	Short: "Admit a task into the lifecycle at the first phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runCycleStart,
}

var cycleAdvanceCmd = &cobra.Command{
	Use:   "advance TASK_ID",
	Short: "Attempt one phase transition for a task",
	Long: `Attempt one phase transition for a task. Without --to the task moves to
the next phase in sequence; --to PHASE requests an explicit backtrack to an
earlier phase. Forward jumps are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runCycleAdvance,
}

var cycleStatusCmd = &cobra.Command{
	Use:   "status [TASK_ID]",
	Short: "Show cycle state for one task or every active task",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCycleStatus,
}

var cycleRenewCmd = &cobra.Command{
	Use:   "renew TASK_ID",
	Short: "Extend the holder's lease on the task's current phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runCycleRenew,
}

func init() {
	cycleStartCmd.Flags().StringVar(&cycleTitle, "title", "", "Title for a task created on the fly")
	cycleStartCmd.Flags().StringVar(&cycleHolder, "holder", "", "Lease holder identity (default: host-scoped)")

	cycleAdvanceCmd.Flags().StringVar(&cycleTo, "to", "", "Explicit target phase (backtrack only)")
	cycleAdvanceCmd.Flags().StringVar(&cycleHolder, "holder", "", "Lease holder identity (default: host-scoped)")
	cycleAdvanceCmd.Flags().StringVar(&cycleDigest, "digest", "", "Context digest for drift attestation")
	cycleAdvanceCmd.Flags().StringVar(&cycleAgentType, "agent-type", "", "Worker agent type recorded in the ledger")

	cycleRenewCmd.Flags().StringVar(&cycleHolder, "holder", "", "Lease holder identity")

	cycleCmd.AddCommand(cycleStartCmd)
	cycleCmd.AddCommand(cycleAdvanceCmd)
	cycleCmd.AddCommand(cycleStatusCmd)
	cycleCmd.AddCommand(cycleRenewCmd)
	rootCmd.AddCommand(cycleCmd)
}

func runCycleStart(cmd *cobra.Command, args []string) error {
	configureColor()
	taskID := args[0]

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	if _, err := e.registry.Get(ctx, taskID); errors.Is(err, registry.ErrNotFound) {
		title := cycleTitle
		if title == "" {
			title = taskID
		}
		if err := e.registry.Create(ctx, registry.Task{
			ID:     taskID,
			Title:  title,
			Status: registry.StatusActive,
		}); err != nil {
			return fmt.Errorf("creating task: %w", err)
		}
	} else if err != nil {
		return err
	}

	holder := cycleHolder
	if holder == "" {
		holder = defaultHolder()
	}

	out, err := e.seq.StartCycle(ctx, taskID, holder)
	if err != nil {
		return err
	}
	if !out.Advanced {
		printOutcome(out)
		return nil
	}
	fmt.Printf("%s task %s entered %s (holder %s)\n",
		styleOK.Render("started:"), taskID, styleBold.Render(out.To.String()), holder)
	return nil
}

func runCycleAdvance(cmd *cobra.Command, args []string) error {
	configureColor()
	taskID := args[0]

	var desired *phase.Phase
	if cycleTo != "" {
		ph, err := phase.Parse(cycleTo)
		if err != nil {
			return err
		}
		desired = &ph
	}

	holder := cycleHolder
	if holder == "" {
		holder = defaultHolder()
	}

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	var prov *ledger.Provenance
	if cycleAgentType != "" {
		prov = &ledger.Provenance{VariantID: cycleAgentType}
	}

	out, err := e.seq.Advance(context.Background(), sequencer.Request{
		TaskID:        taskID,
		Holder:        holder,
		DesiredPhase:  desired,
		ContextDigest: cycleDigest,
		AgentType:     cycleAgentType,
		Provenance:    prov,
	})
	if err != nil {
		return err
	}
	printOutcome(out)
	return nil
}

func runCycleRenew(cmd *cobra.Command, args []string) error {
	configureColor()
	taskID := args[0]

	if cycleHolder == "" {
		return fmt.Errorf("--holder is required: renewal must name the current holder")
	}

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	current, inCycle, err := e.state.Current(ctx, taskID)
	if err != nil {
		return err
	}
	if !inCycle {
		return sequencer.ErrTaskNotInCycle
	}

	res, err := e.leases.Renew(ctx, taskID, current, cycleHolder)
	if err != nil {
		return err
	}
	if !res.Renewed {
		fmt.Printf("%s %s\n", styleError.Render("refused:"), res.Reason)
		return nil
	}
	fmt.Printf("%s lease on %s extended to %s (renewal %d)\n",
		styleOK.Render("renewed:"), current,
		res.Lease.ExpiresAt.Local().Format("15:04:05"), res.Lease.RenewalCount)
	return nil
}

func runCycleStatus(cmd *cobra.Command, args []string) error {
	configureColor()

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	states, err := e.state.List(ctx)
	if err != nil {
		return err
	}
	leases, err := e.leases.Leases(ctx)
	if err != nil {
		return err
	}

	holders := make(map[string]string, len(leases))
	for _, l := range leases {
		holders[l.TaskID+"/"+l.Phase.String()] = l.Holder
	}

	if len(args) == 1 {
		return printTaskStatus(ctx, e, args[0], states, holders)
	}

	if len(states) == 0 {
		fmt.Println(styleMuted.Render("no tasks in cycle"))
		return nil
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-24s %-12s %-24s %s\n", "TASK", "PHASE", "HOLDER", "PROGRESS")
	for _, id := range ids {
		ph := states[id]
		holder := holders[id+"/"+ph.String()]
		if holder == "" {
			holder = "-"
		}
		fmt.Printf("%-24s %-12s %-24s %s\n", id, ph, holder, progressBar(ph))
	}
	return nil
}

func printTaskStatus(ctx context.Context, e *engine, taskID string, states map[string]phase.Phase, holders map[string]string) error {
	task, err := e.registry.Get(ctx, taskID)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%s)\n", styleBold.Render(task.ID), task.Title, task.Status)
	if ph, ok := states[taskID]; ok {
		holder := holders[taskID+"/"+ph.String()]
		if holder == "" {
			holder = "-"
		}
		fmt.Printf("  phase:  %s  %s\n", styleBold.Render(ph.String()), progressBar(ph))
		fmt.Printf("  holder: %s\n", holder)
	} else {
		fmt.Println(styleMuted.Render("  not in cycle"))
	}

	notes, err := e.registry.AuditNotes(ctx, taskID)
	if err != nil {
		return err
	}
	if len(notes) > 0 {
		fmt.Println("  audit notes:")
		for _, n := range notes {
			fmt.Printf("    %s %s\n",
				styleMuted.Render(n.CreatedAt.Local().Format("2006-01-02 15:04")), n.Note)
		}
	}
	return nil
}

// progressBar renders the task's position in the fixed phase sequence.
func progressBar(current phase.Phase) string {
	idx := current.Index()
	var b strings.Builder
	for i := range phase.Sequence {
		switch {
		case i < idx:
			b.WriteString("=")
		case i == idx:
			b.WriteString("#")
		default:
			b.WriteString("-")
		}
	}
	return fmt.Sprintf("[%s] %d/%d", b.String(), idx+1, len(phase.Sequence))
}
