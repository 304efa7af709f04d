package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/phasegate/internal/ledger"
	"github.com/marcus/phasegate/internal/telemetry"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify the hash-chained transition ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show TASK_ID",
	Short: "Print a task's transition chain in append order",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify TASK_ID",
	Short: "Recompute every hash in a task's chain and report tampering",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerVerify,
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	configureColor()
	taskID := args[0]

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.ledger.Entries(context.Background(), taskID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println(styleMuted.Render("no ledger entries for " + taskID))
		return nil
	}

	for i, entry := range entries {
		from := entry.FromPhase.String()
		if from == "" {
			from = "(genesis)"
		}
		marker := styleOK.Render("ok")
		if !entry.Validated {
			marker = styleError.Render("blocked")
		} else if entry.Backtrack {
			marker = styleWarn.Render("backtrack")
		}
		fmt.Printf("%3d  %s  %-12s -> %-12s %s\n",
			i, entry.Timestamp.Local().Format("2006-01-02 15:04:05"), from, entry.ToPhase, marker)
		fmt.Printf("     %s\n", styleMuted.Render("hash "+entry.Hash[:16]+"  prev "+entry.PrevHash[:16]))
		if len(entry.Artifacts) > 0 {
			fmt.Printf("     %s\n", styleMuted.Render(fmt.Sprintf("%d artifacts", len(entry.Artifacts))))
		}
	}
	return nil
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	configureColor()
	taskID := args[0]

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	err = e.ledger.VerifyChain(context.Background(), taskID)
	var tamper *ledger.TamperError
	if errors.As(err, &tamper) {
		fmt.Printf("%s entry %d: %s\n", styleError.Render("TAMPERED:"), tamper.Index, tamper.Reason)
		return fmt.Errorf("chain verification failed for %s", taskID)
	}
	if err != nil {
		return err
	}

	entries, err := e.ledger.Entries(context.Background(), taskID)
	if err != nil {
		return err
	}
	fmt.Printf("%s chain intact, %d entries verified\n", styleOK.Render("ok:"), len(entries))
	return nil
}
