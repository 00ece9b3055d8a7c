package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/inconshreveable/log15"

	"github.com/BYTE-6D65/pausetimer/pkg/config"
	"github.com/BYTE-6D65/pausetimer/pkg/event"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
	"github.com/BYTE-6D65/pausetimer/pkg/workload"
)

const version = "0.1.0"

var logger = log15.New("at", "pausetimer")

func main() {
	logger.SetHandler(log15.LvlFilterHandler(logLevel(), log15.StreamHandler(os.Stderr, log15.LogfmtFormat())))

	// If no arguments or "demo", launch interactive TUI
	if len(os.Args) < 2 || os.Args[1] == "demo" {
		if err := startTUI(); err != nil {
			logger.Crit("TUI error", "error", err)
			os.Exit(1)
		}
		return
	}

	cmd := os.Args[1]

	switch cmd {
	case "version":
		fmt.Printf("pausetimer v%s\n", version)
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	case "help", "-h", "--help":
		usage()
		return
	case "run":
		if err := run(os.Args[2:]); err != nil {
			logger.Crit("run failed", "error", err)
			os.Exit(1)
		}
		return
	default:
		logger.Crit(fmt.Sprintf("unknown command %q (try 'pausetimer help')", cmd))
		os.Exit(2)
	}
}

func logLevel() log15.Lvl {
	if lvl, err := log15.LvlFromString(strings.ToLower(os.Getenv("PAUSETIMER_LOG_LEVEL"))); err == nil {
		return lvl
	}
	return log15.LvlInfo
}

// run executes one scenario with a corrected and an uncorrected timer.
func run(args []string) error {
	name := workload.ScenarioGCStalls.Name
	asJSON := false
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			asJSON = true
		default:
			name = arg
		}
	}

	scenario, err := workload.Lookup(name)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger.Debug("loaded configuration\n" + cfg.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	bus := event.NewErrorBus(cfg.ErrorBusBufferSize)
	defer bus.Close()
	if _, err := bus.SubscribeWithHandler(ctx, event.DebugSeverity, logEvent); err != nil {
		return fmt.Errorf("subscribe to diagnostics: %w", err)
	}

	logger.Info("running scenario", "scenario", scenario.Name, "duration", scenario.Duration, "detector", cfg.PauseConfig())

	res, err := workload.Run(ctx, scenario, workload.Options{
		Timer:   cfg.TimerOptions(),
		Bus:     bus,
		Metrics: telemetry.Default(),
	})
	if err != nil {
		return fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	if asJSON {
		data, err := res.JSON()
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(workload.FormatResult(res))
	return nil
}

// logEvent renders a diagnostic event at the log level matching its severity.
func logEvent(evt event.ErrorEvent) {
	ctx := []any{"code", evt.Code, "component", evt.Component}
	for k, v := range evt.Context {
		ctx = append(ctx, k, v)
	}

	switch evt.Severity {
	case event.DebugSeverity:
		logger.Debug(evt.Message, ctx...)
	case event.InfoSeverity:
		logger.Info(evt.Message, ctx...)
	case event.WarningSeverity:
		logger.Warn(evt.Message, ctx...)
	case event.Error:
		logger.Error(evt.Message, ctx...)
	default:
		logger.Crit(evt.Message, ctx...)
	}
}

func usage() {
	names := make([]string, 0, len(workload.Scenarios()))
	for _, s := range workload.Scenarios() {
		names = append(names, fmt.Sprintf("  - %-10s %s", s.Name, s.Description))
	}

	fmt.Fprintf(os.Stderr, `Pausetimer - Coordinated-Omission Corrected Latency Timer Demo

Usage:
  pausetimer [demo]
      Launch interactive demo comparing corrected and uncorrected timers

  pausetimer run [scenario] [--json]
      Run a scenario in virtual time and print both timers' snapshots

  pausetimer version
      Show version and platform information

  pausetimer help
      Show this help message

Scenarios:
%s

Examples:
  # Launch interactive demo
  pausetimer

  # Replay a 2s freeze and print JSON
  pausetimer run freeze --json

  # Disable pause detection to see the uncorrected picture twice
  PAUSETIMER_PAUSE_ENABLED=false pausetimer run gc-stalls

Environment:
  PAUSETIMER_PAUSE_ENABLED, PAUSETIMER_PAUSE_SLEEP_INTERVAL, PAUSETIMER_PAUSE_THRESHOLD,
  PAUSETIMER_BASE_UNIT, PAUSETIMER_PERCENTILES, PAUSETIMER_PERCENTILE_HISTOGRAM,
  PAUSETIMER_SLO, PAUSETIMER_EXPIRY, PAUSETIMER_BUFFER_LENGTH, PAUSETIMER_PRECISION,
  PAUSETIMER_STEP, PAUSETIMER_ERROR_BUS_BUFFER, PAUSETIMER_LOG_LEVEL

About:
  A request loop that stalls stops issuing requests, so the stall shows up as
  one slow sample instead of every request that should have been waiting.
  The corrected timer listens to a clock-drift pause detector and backfills
  the samples the stall swallowed.
`, strings.Join(names, "\n"))
}
