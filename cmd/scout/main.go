package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"jordanella.com/autochess-scout/internal/config"
	"jordanella.com/autochess-scout/internal/events"
	"jordanella.com/autochess-scout/internal/logging"
	"jordanella.com/autochess-scout/internal/ocr"
	"jordanella.com/autochess-scout/internal/pipeline"
	"jordanella.com/autochess-scout/internal/recognize"
	"jordanella.com/autochess-scout/internal/sink"
	"jordanella.com/autochess-scout/pkg/catalog"
)

var (
	configPath string
	display    int
	catalogDir string
	journal    string
	debugDir   string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "scout",
		Short: "Auto-battler game state capture pipeline",
		Long: `scout watches an auto-battler match and turns frames into structured
game state events: shop contents, gold, level and stage progression.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to Settings.ini")
	root.PersistentFlags().StringVar(&catalogDir, "catalog", "", "unit catalog directory (overrides config)")
	root.PersistentFlags().StringVar(&journal, "journal", "", "SQLite event journal path (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Capture live from a display",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup()
			if err != nil {
				return err
			}
			settings.Display = display
			source, err := pipeline.NewScreenSource(settings.Display)
			if err != nil {
				return err
			}
			return runSession(settings, source, log)
		},
	}
	runCmd.Flags().IntVarP(&display, "display", "d", 0, "display index to capture")

	videoCmd := &cobra.Command{
		Use:   "video <frame-dir>",
		Short: "Replay extracted video frames from a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup()
			if err != nil {
				return err
			}
			source, err := pipeline.NewVideoSource(args[0], settings.VideoFPS)
			if err != nil {
				return err
			}
			log.InfoWithContext("replaying frames", map[string]interface{}{
				"dir":    args[0],
				"frames": source.Len(),
			})
			return runSession(settings, source, log)
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [frame.png]",
		Short: "Export the detection breakdown for one frame",
		Long:  "Analyzes a saved screenshot when a path is given, otherwise grabs one frame from the display.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup()
			if err != nil {
				return err
			}
			settings.Display = display
			if debugDir != "" {
				settings.DebugDir = debugDir
			}
			if settings.DebugDir == "" {
				settings.DebugDir = "debug"
			}

			var source pipeline.FrameSource
			if len(args) == 1 {
				source, err = pipeline.NewImageSource(args[0])
			} else {
				source, err = pipeline.NewScreenSource(settings.Display)
			}
			if err != nil {
				return err
			}
			defer source.Close()

			session, _, cleanup, err := buildSession(settings, source, log)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := session.ExportDebug(context.Background(), settings.DebugDir); err != nil {
				return err
			}
			fmt.Printf("detection breakdown written to %s\n", settings.DebugDir)
			return nil
		},
	}
	analyzeCmd.Flags().IntVarP(&display, "display", "d", 0, "display index to capture")
	analyzeCmd.Flags().StringVar(&debugDir, "out", "", "output directory for debug images")

	root.AddCommand(runCmd, videoCmd, analyzeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads settings and builds the root logger
func setup() (*config.Settings, *logging.Logger, error) {
	settings := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		settings = loaded
	}
	if catalogDir != "" {
		settings.CatalogDir = catalogDir
	}
	if journal != "" {
		settings.JournalPath = journal
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}

	log := logging.NewLogger("scout").SetMinLevel(logging.ParseLevel(settings.LogLevel))
	return settings, log, nil
}

// buildSession wires the catalog, matcher, reader, bus and optional journal
// into a session. The returned cleanup stops the bus and closes the journal.
func buildSession(settings *config.Settings, source pipeline.FrameSource, log *logging.Logger) (*pipeline.Session, *events.Bus, func(), error) {
	cat, err := catalog.Load(settings.CatalogDir)
	if err != nil {
		var loadErr *catalog.LoadError
		if !errors.As(err, &loadErr) {
			return nil, nil, nil, err
		}
		log.Warn(loadErr.Error())
	}
	log.InfoWithContext("catalog loaded", map[string]interface{}{"units": cat.Len()})

	matcher := recognize.NewMatcher(cat, recognize.Config{
		MinConfidence: settings.MatchThreshold,
		Margin:        settings.MatchMargin,
		EmptyStdDev:   settings.EmptyStdDev,
		Workers:       settings.MatchWorkers,
	}, log.Named("recognize"))

	engine := ocr.NewTesseractEngine(settings.OCRBinary, log.Named("ocr"))
	reader := ocr.NewFieldReader(engine, settings.OCRTimeout, log.Named("ocr"))

	bus := events.NewBus(settings.EventBuffer, log.Named("events"))

	var jnl *sink.Journal
	if settings.JournalPath != "" {
		jnl, err = sink.OpenJournal(settings.JournalPath, log.Named("journal"))
		if err != nil {
			bus.Stop()
			return nil, nil, nil, err
		}
		jnl.Attach(bus)
	}

	session := pipeline.NewSession(settings, source, bus, matcher, reader, log.Named("pipeline"))
	cleanup := func() {
		bus.Stop()
		if jnl != nil {
			jnl.Close()
		}
	}
	return session, bus, cleanup, nil
}

// runSession runs a session until the source exhausts or the user interrupts
func runSession(settings *config.Settings, source pipeline.FrameSource, log *logging.Logger) error {
	defer source.Close()

	session, bus, cleanup, err := buildSession(settings, source, log)
	if err != nil {
		return err
	}
	defer cleanup()

	bus.Subscribe(events.EventTypeStateChanged, func(e events.Event) {
		changes, ok := e.Data["changes"].(map[string]events.FieldChange)
		if !ok {
			return
		}
		fields := make([]string, 0, len(changes))
		for field := range changes {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			c := changes[field]
			fmt.Printf("%s  %s: %v -> %v\n",
				e.Timestamp.Format("15:04:05.000"), field, c.Old, c.New)
		}
	})
	bus.Subscribe(events.EventTypeNoGameDetected, func(e events.Event) {
		fmt.Printf("%s  %v\n", e.Timestamp.Format("15:04:05.000"), e.Data["reason"])
	})
	bus.Subscribe(events.EventTypeSourceExhausted, func(e events.Event) {
		fmt.Printf("%s  source exhausted\n", e.Timestamp.Format("15:04:05.000"))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		session.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		session.Stop()
	case <-finished:
	}
	session.Wait()
	log.InfoWithContext("session finished", map[string]interface{}{
		"frames": session.Frames(),
		"state":  session.State().String(),
	})
	return nil
}
