package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/marcus/phasegate/internal/attest"
	"github.com/marcus/phasegate/internal/audit"
	"github.com/marcus/phasegate/internal/config"
	"github.com/marcus/phasegate/internal/db"
	"github.com/marcus/phasegate/internal/evidence"
	"github.com/marcus/phasegate/internal/gates"
	"github.com/marcus/phasegate/internal/ledger"
	"github.com/marcus/phasegate/internal/lease"
	"github.com/marcus/phasegate/internal/logging"
	"github.com/marcus/phasegate/internal/phase"
	"github.com/marcus/phasegate/internal/registry"
	"github.com/marcus/phasegate/internal/sequencer"
	"github.com/marcus/phasegate/internal/telemetry"
	"github.com/marcus/phasegate/internal/trust"
	"github.com/marcus/phasegate/internal/verify"
)

// isInteractive reports whether stdout is a terminal. Override in tests.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// configureColor disables styling for non-TTY output or NO_COLOR.
func configureColor() {
	if !isInteractive() || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}).Bold(true)
	styleError = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}).Bold(true)
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"})
	styleBold  = lipgloss.NewStyle().Bold(true)
)

// loadConfig resolves the config path flag and loads configuration.
func loadConfig() (*config.Config, error) {
	if configPathFlag != "" {
		return config.LoadFromPath(configPathFlag)
	}
	return config.Load()
}

// initLogging initializes the global logger from config.
func initLogging(cfg *config.Config) error {
	format := "json"
	if cfg.Logging.Console {
		format = "text"
	}
	return logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Path:   cfg.Logging.Dir,
		Format: format,
	})
}

// defaultHolder derives a holder identity for this invocation: host-scoped so
// contention output is readable, uuid-suffixed so concurrent invocations from
// one host stay distinct.
func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// gateProvider builds the per-phase gate set from config.
func gateProvider(cfg *config.Config) (gates.Provider, error) {
	provider := gates.StaticProvider{}
	for name, specs := range cfg.Gates {
		ph, err := phase.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("gates config: %w", err)
		}
		for _, spec := range specs {
			provider[ph] = append(provider[ph], gates.Command(spec.Name, spec.Required, spec.Command, spec.Args...))
		}
	}
	return provider, nil
}

// engine bundles the wired governance components behind one open/close pair.
type engine struct {
	cfg       *config.Config
	db        *db.DB
	state     sequencer.StateStore
	leases    *lease.Manager
	ledger    *ledger.Ledger
	trust     *trust.Scorer
	registry  registry.Registry
	collector *evidence.Collector
	trail     *audit.Trail
	seq       *sequencer.Sequencer
}

// openEngine loads config, initializes logging, and wires the engine over the
// shared database.
func openEngine(sink telemetry.Sink) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return buildEngine(cfg, sink)
}

// buildEngine wires the engine for a caller that already loaded config and
// initialized logging.
func buildEngine(cfg *config.Config, sink telemetry.Sink) (*engine, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	provider, err := gateProvider(cfg)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	trail, err := audit.NewTrail(cfg.AuditDir)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	sink = telemetry.MultiSink{trail, sink}

	e := &engine{
		cfg:       cfg,
		db:        database,
		state:     sequencer.NewSQLiteStateStore(database),
		ledger:    ledger.New(ledger.NewSQLiteStore(database)),
		trust:     trust.NewScorer(trust.NewSQLiteStore(database)),
		registry:  registry.NewSQLiteRegistry(database),
		collector: evidence.NewCollector(cfg.EvidenceDir, nil),
		trail:     trail,
	}
	e.leases = lease.NewManager(lease.NewSQLiteStore(database),
		lease.WithTTL(cfg.Lease.TTL),
		lease.WithMaxRenewals(cfg.Lease.MaxRenewals))
	e.seq = sequencer.New(
		e.state,
		e.leases,
		e.ledger,
		e.trust,
		attest.NewDetector(attest.NewSQLiteStore(database)),
		provider,
		e.collector,
		e.registry,
		sequencer.WithTelemetry(sink),
		sequencer.WithFinalVerifier(verify.NewChecklist(cfg.EvidenceDir)),
	)
	return e, nil
}

func (e *engine) close() {
	_ = e.trail.Close()
	_ = e.db.Close()
}

// printOutcome renders a transition outcome for the terminal.
func printOutcome(out sequencer.Outcome) {
	switch {
	case out.Completed:
		fmt.Printf("%s task completed its cycle at %s\n", styleOK.Render("done:"), out.From)
	case out.Advanced && out.Reason == sequencer.ReasonBacktrack:
		fmt.Printf("%s %s -> %s\n", styleWarn.Render("backtrack:"), out.From, out.To)
	case out.Advanced:
		fmt.Printf("%s %s -> %s\n", styleOK.Render("advanced:"), out.From, out.To)
	default:
		fmt.Printf("%s %s\n", styleError.Render("blocked:"), out.Reason)
		if len(out.FailedGates) > 0 {
			fmt.Printf("  failed gates: %s\n", strings.Join(out.FailedGates, ", "))
		}
		if len(out.MissingEvidence) > 0 {
			fmt.Printf("  missing evidence: %s\n", strings.Join(out.MissingEvidence, ", "))
		}
		if out.RequiredPhase != "" {
			fmt.Printf("  required next phase: %s\n", styleBold.Render(out.RequiredPhase.String()))
		}
		if out.HeldBy != "" {
			fmt.Printf("  held by %s (expires in %s)\n", out.HeldBy, out.ExpiresIn.Round(time.Second))
		}
		if out.Drift != nil && out.Drift.HasDrift {
			fmt.Printf("  drift severity %s:\n", out.Drift.Severity)
			for _, d := range out.Drift.Details {
				fmt.Printf("    - %s\n", styleMuted.Render(d))
			}
		}
		if out.FinalReport != "" {
			fmt.Printf("  %s\n", out.FinalReport)
		}
	}
}
