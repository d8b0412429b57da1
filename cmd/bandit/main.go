// cmd/bandit/main.go
//
// bandit runs the two-armed bandit reward-learning task with optional
// brain-stimulation synchronization. Each invocation executes one run and
// writes its trials to a per-run SQLite database plus a marker log.
//
// Usage:
//
//	bandit run --subject 011 --session 1 --run 3 [--config config.json]
//	bandit probe [--stream ws://localhost:1812/markers] [--listen 10s]
//	bandit report --subject 011 --session 1 --run 3 [--csv out.csv]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/DVS-Lab/tacs-bandit/internal/config"
	"github.com/DVS-Lab/tacs-bandit/internal/marker"
	"github.com/DVS-Lab/tacs-bandit/internal/present"
	"github.com/DVS-Lab/tacs-bandit/internal/sched"
	"github.com/DVS-Lab/tacs-bandit/internal/stim"
	"github.com/DVS-Lab/tacs-bandit/internal/storage"
	"github.com/DVS-Lab/tacs-bandit/internal/stream"
	"github.com/DVS-Lab/tacs-bandit/internal/task"
	"github.com/DVS-Lab/tacs-bandit/internal/trigger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "probe":
		cmdProbe(os.Args[2:])
	case "report":
		cmdReport(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: bandit <command> [flags]

Commands:
  run      Execute one task run for a subject
  probe    Resolve the device marker stream and print incoming codes
  report   Summarize recorded runs, optionally exporting trials as CSV

Run 'bandit <command> --help' for details on each command.
`)
}

// loadConfig reads the given config file, or returns the defaults when path
// is empty.
func loadConfig(path string) *config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	return cfg
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	subject := fs.String("subject", "", "subject identifier (required)")
	session := fs.Int("session", 1, "session number")
	run := fs.Int("run", 1, "run number within the session")
	configPath := fs.String("config", "", "path to config.json")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	streamURL := fs.String("stream", "", "marker stream URL (overrides config)")
	noStim := fs.Bool("no-stim", false, "disable stimulation sync for this run")
	fs.Parse(args)

	if *subject == "" {
		fmt.Fprintf(os.Stderr, "Error: --subject is required\n")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}
	if *streamURL != "" {
		cfg.Stimulation.StreamURL = *streamURL
	}
	if *noStim {
		cfg.Stimulation.Enabled = false
	}

	if err := runSession(cfg, *subject, *session, *run); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

func runSession(cfg *config.Config, subject string, session, run int) error {
	runType := cfg.RunTypeFor(run)
	cond := stim.Baseline
	if cfg.Stimulation.Enabled {
		cond = stim.ConditionFor(subject, run)
	}
	// The trigger wait only applies to runs that actually stimulate.
	stimSync := cfg.Stimulation.Enabled && cond != stim.Baseline

	db, err := storage.NewDB(storage.RunPath(cfg.Paths.DataDir, subject, session, run))
	if err != nil {
		return fmt.Errorf("open run database: %w", err)
	}
	defer db.Close()

	// Marker sinks: always the per-run JSONL log, plus the operator-side log
	// when stimulating and a Redis stream when configured.
	markerPath := storage.RunPath(cfg.Paths.DataDir, subject, session, run) + ".markers.jsonl"
	jsonl, err := marker.NewJSONL(markerPath)
	if err != nil {
		return fmt.Errorf("open marker log: %w", err)
	}
	sinks := []marker.Sink{jsonl}

	var mgr *stim.Manager
	if stimSync {
		mgr, err = stim.NewManager(cfg.Stimulation.CommandDir, stim.Protocols{
			Active: cfg.Stimulation.ProtocolActive,
			Sham:   cfg.Stimulation.ProtocolSham,
		})
		if err != nil {
			return err
		}
		if err := mgr.LoadProtocol(cond); err != nil {
			return err
		}
		if err := mgr.StartStimulation(); err != nil {
			return err
		}
		defer func() {
			if err := mgr.StopStimulation(); err != nil {
				log.Printf("[run] stop stimulation: %v", err)
			}
		}()

		opLog, err := marker.NewJSONL(mgr.MarkersPath())
		if err != nil {
			return fmt.Errorf("open operator marker log: %w", err)
		}
		sinks = append(sinks, opLog)
	}
	if cfg.Stimulation.RedisAddr != "" {
		sinks = append(sinks, marker.NewRedisSink(cfg.Stimulation.RedisAddr, cfg.Stimulation.RedisStream))
	}
	sink := marker.NewMulti(sinks...)
	defer sink.Close()

	pres := present.NewConsole(os.Stdin, os.Stdout)

	// Resolve the device marker stream. When manual fallback is allowed the
	// experimenter can start the run with a keypress, whether the stream is
	// unreachable or reachable but silent.
	var trig *trigger.Listener
	var devSamples <-chan stream.Sample
	if stimSync {
		inlet, err := stream.Resolve(cfg.Stimulation.StreamURL, 5*time.Second)
		switch {
		case err == nil:
			defer inlet.Close()
			trig = trigger.New(inlet.Samples())
			devSamples = inlet.Samples()
		case errors.Is(err, stream.ErrNoStream) && cfg.Stimulation.ManualFallback:
			log.Printf("[run] %v, waiting for manual start", err)
			trig = trigger.New(nil)
		default:
			return err
		}
		if cfg.Stimulation.ManualFallback {
			fmt.Println("press ENTER to start the run manually")
			go func(l *trigger.Listener) {
				if pres.AwaitLine(l.Done()) {
					l.Manual()
				}
			}(trig)
		}
	}

	stim1, stim2 := sched.PairForRun(subject, session, run, cfg.Experiment.StimulusPool)
	taskCfg := task.Config{
		SessionID:     uuid.New().String(),
		Subject:       subject,
		SessionNum:    session,
		Run:           run,
		RunType:       runType,
		StimCondition: string(cond),
		Duration:      cfg.RunDuration(),
		Timing: task.Timing{
			Fixation:    secs(cfg.Timing.FixationDuration),
			MaxResponse: secs(cfg.Timing.MaxResponseTime),
			WaitMin:     secs(cfg.Timing.WaitDurationMin),
			WaitMax:     secs(cfg.Timing.WaitDurationMax),
			Outcome:     secs(cfg.Timing.OutcomeDuration),
			ITI:         secs(cfg.Timing.ITIDuration),
		},
		Sched: sched.Config{
			WinFraction: cfg.Task.WinFraction,
			BaseTrials:  cfg.Task.MinTrialsSameContingency,
			Jitter:      cfg.Task.ContingencyJitter,
		},
		Stim1:          stim1,
		Stim2:          stim2,
		StimSync:       stimSync,
		TriggerCode:    cfg.Stimulation.TriggerCode,
		TriggerTimeout: cfg.Stimulation.TriggerTimeout(),
		ManualFallback: cfg.Stimulation.ManualFallback,
	}

	header := &task.Session{
		ID:            taskCfg.SessionID,
		Subject:       subject,
		SessionNum:    session,
		Run:           run,
		RunType:       runType,
		StimCondition: string(cond),
		Duration:      taskCfg.Duration,
		StartedAt:     time.Now(),
	}
	if err := db.CreateSession(header); err != nil {
		return err
	}

	ctrl, err := task.NewController(taskCfg, pres, sink, db.Writer(taskCfg.SessionID), trig, devSamples)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, runErr := ctrl.Run(ctx)
	if len(sess.Trials) > 0 || runErr == nil {
		if err := db.FinishSession(sess); err != nil {
			log.Printf("[run] finish session: %v", err)
		}
	}
	printSummary(os.Stdout, sess, task.Summarize(sess.Trials))
	return runErr
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func printSummary(w io.Writer, sess *task.Session, s task.Summary) {
	fmt.Fprintf(w, "\nsub-%s ses-%d run-%d (%s, %s)\n",
		sess.Subject, sess.SessionNum, sess.Run, sess.RunType, sess.StimCondition)
	fmt.Fprintf(w, "  trials:      %d\n", s.Trials)
	fmt.Fprintf(w, "  responses:   %d (%.0f%%)\n", s.Responses, 100*s.ResponseRate())
	fmt.Fprintf(w, "  correct:     %d (%.0f%% of responses)\n", s.Correct, 100*s.CorrectRate())
	fmt.Fprintf(w, "  rewarded:    %d\n", s.Rewarded)
	fmt.Fprintf(w, "  reversals:   %d\n", s.Reversals)
	if s.Responses > 0 {
		fmt.Fprintf(w, "  mean RT:     %v\n", s.MeanRT.Round(time.Millisecond))
	}
}

// cmdProbe resolves the marker stream and prints the codes it carries,
// until the listen window ends or the process is interrupted.
func cmdProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	streamURL := fs.String("stream", "", "marker stream URL (overrides config)")
	configPath := fs.String("config", "", "path to config.json")
	listen := fs.Duration("listen", 10*time.Second, "how long to listen for markers")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	url := cfg.Stimulation.StreamURL
	if *streamURL != "" {
		url = *streamURL
	}

	inlet, err := stream.Resolve(url, 5*time.Second)
	if err != nil {
		log.Fatalf("Resolve stream: %v", err)
	}
	defer inlet.Close()
	fmt.Printf("connected to %s, listening for %v\n", url, *listen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	timer := time.NewTimer(*listen)
	defer timer.Stop()

	count := 0
	for {
		select {
		case s, ok := <-inlet.Samples():
			if !ok {
				fmt.Printf("stream closed after %d markers\n", count)
				return
			}
			count++
			fmt.Printf("  %3d  %-14s  t=%.4f\n", s.Code, marker.Name(s.Code), s.Timestamp)
		case <-timer.C:
			fmt.Printf("done, %d markers observed\n", count)
			return
		case <-ctx.Done():
			fmt.Printf("\ninterrupted, %d markers observed\n", count)
			return
		}
	}
}

// cmdReport prints per-session summaries from a run database.
func cmdReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	subject := fs.String("subject", "", "subject identifier (required)")
	session := fs.Int("session", 1, "session number")
	run := fs.Int("run", 1, "run number within the session")
	configPath := fs.String("config", "", "path to config.json")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	csvPath := fs.String("csv", "", "export trials as CSV to this file")
	fs.Parse(args)

	if *subject == "" {
		fmt.Fprintf(os.Stderr, "Error: --subject is required\n")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}

	db, err := storage.NewDB(storage.RunPath(cfg.Paths.DataDir, *subject, *session, *run))
	if err != nil {
		log.Fatalf("Open run database: %v", err)
	}
	defer db.Close()

	sessions, err := db.ListSessions()
	if err != nil {
		log.Fatalf("List sessions: %v", err)
	}
	if len(sessions) == 0 {
		log.Fatalf("No sessions recorded for sub-%s ses-%d run-%d", *subject, *session, *run)
	}

	for i := range sessions {
		sess := &sessions[i]
		trials, err := db.ListTrials(sess.ID)
		if err != nil {
			log.Fatalf("List trials: %v", err)
		}
		sess.Trials = trials
		printSummary(os.Stdout, sess, task.Summarize(trials))
	}

	if *csvPath != "" {
		f, err := os.OpenFile(*csvPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			log.Fatalf("Create CSV: %v", err)
		}
		defer f.Close()
		if err := db.ExportCSV(f, sessions[0].ID); err != nil {
			log.Fatalf("Export CSV: %v", err)
		}
		fmt.Printf("exported %s\n", *csvPath)
	}
}
