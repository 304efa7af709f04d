package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marcus/phasegate/internal/audit"
	"github.com/marcus/phasegate/internal/telemetry"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent engine decisions from the audit trail",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum events to show")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	configureColor()

	e, err := openEngine(telemetry.NopSink{})
	if err != nil {
		return err
	}
	defer e.close()

	files, err := e.trail.Files()
	if err != nil {
		return err
	}
	sort.Strings(files)

	var events []audit.Event
	for _, f := range files {
		evs, err := audit.ReadEvents(f)
		if err != nil {
			return err
		}
		events = append(events, evs...)
	}
	if len(events) == 0 {
		fmt.Println(styleMuted.Render("audit trail is empty"))
		return nil
	}
	if auditLimit > 0 && len(events) > auditLimit {
		events = events[len(events)-auditLimit:]
	}

	for _, ev := range events {
		fmt.Printf("%s  %-20s %s\n",
			styleMuted.Render(ev.Timestamp.Local().Format("2006-01-02 15:04:05")),
			ev.EventType, describeEvent(ev))
	}
	return nil
}

// describeEvent renders the event-type-specific payload.
func describeEvent(ev audit.Event) string {
	switch ev.EventType {
	case audit.EventTransition:
		s := ev.Decision
		if ev.Phase != "" {
			s += " at " + ev.Phase
		}
		if ev.Reason != "" {
			s += " (" + ev.Reason + ")"
		}
		if ev.Decision == "block" {
			return styleWarn.Render(s)
		}
		return s
	case audit.EventSkipAttempt:
		return styleError.Render(fmt.Sprintf("%s -> %s rejected", ev.Phase, ev.ToPhase))
	case audit.EventLeaseContention:
		return "at " + ev.Phase
	case audit.EventDrift:
		return "severity " + ev.Severity
	case audit.EventTrustUpdate:
		return fmt.Sprintf("%s %s", ev.Phase, ev.Outcome)
	case audit.EventLeaseSweep:
		return fmt.Sprintf("%d reclaimed", ev.Count)
	default:
		return ""
	}
}
