// Command pitchlisten listens to an audio source and prints the pitch class
// of every note it hears.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AaronDesignStudio/play-the-chord/config"
	"github.com/AaronDesignStudio/play-the-chord/detector"
	"github.com/AaronDesignStudio/play-the-chord/journal"
	"github.com/AaronDesignStudio/play-the-chord/logging"
	"github.com/AaronDesignStudio/play-the-chord/observe"
)

var version = "dev"

type flags struct {
	configPath string
	source     string
	path       string
	tone       string
	logLevel   string
	jsonOut    bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("pitchlisten", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to the YAML configuration file")
	fs.StringVar(&f.source, "source", "", "audio source: microphone, tone, wav or file")
	fs.StringVar(&f.path, "path", "", "audio file for the wav and file sources")
	fs.StringVar(&f.tone, "tone", "", "note played by the tone source, e.g. E4")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&f.jsonOut, "json", false, "print events as JSON lines")
	err := fs.Parse(args)
	return f, err
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if f.source != "" {
		cfg.Source.Kind = config.SourceKind(f.source)
	}
	if f.path != "" {
		cfg.Source.Path = f.path
	}
	if f.tone != "" {
		cfg.Source.Tone = f.tone
		if f.source == "" {
			cfg.Source.Kind = config.SourceTone
		}
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pitchlisten: %v\n", err)
		return 1
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.SetLevel(level)
	logger := logging.WithFields(logging.Fields{"component": "pitchlisten"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := listen(ctx, cfg, f.jsonOut, stdout, logger); err != nil {
		logger.Error(err, "Exiting")
		return 1
	}
	return 0
}

func listen(ctx context.Context, cfg *config.Config, jsonOut bool, stdout io.Writer, logger logging.Logger) error {
	var opts []detector.Option

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics shutdown failed", logging.Fields{"error": err.Error()})
			}
		}()

		metrics, err := observe.NewMetrics(provider.MeterProvider)
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		opts = append(opts, detector.WithMetrics(metrics))

		ln, err := net.Listen("tcp", cfg.Metrics.ListenAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", provider.Handler)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		logger.Info("Serving metrics", logging.Fields{"addr": ln.Addr().String()})
	}

	src, label, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}

	det, err := detector.New(cfg.Detector, src, opts...)
	if err != nil {
		return err
	}

	sink := newPrinter(stdout, jsonOut)
	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		sessionID, err := store.BeginSession(label)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.EndSession(sessionID); err != nil {
				logger.Warn("Failed to close journal session", logging.Fields{"error": err.Error()})
			}
		}()
		sink = sink.with(func(e detector.NoteEvent) {
			if err := store.Record(sessionID, e); err != nil {
				logger.Warn("Failed to journal note", logging.Fields{"error": err.Error()})
			}
		})
		logger.Info("Journaling notes", logging.Fields{"path": cfg.Journal.Path, "session_id": sessionID})
	}
	det.OnNoteDetected(sink.handle)

	if err := det.StartListening(gctx); err != nil {
		return err
	}
	logger.Info("Listening", logging.Fields{"source": label})

	g.Go(func() error {
		select {
		case <-det.Done():
		case <-gctx.Done():
			det.StopListening()
			<-det.Done()
		}
		logger.Info("Stopped listening", logging.Fields{"dropped_events": det.Dropped()})
		// Ends the metrics server when the source runs dry.
		return errDone
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errDone) {
		return err
	}
	return nil
}

var errDone = errors.New("listening finished")

// printer writes each event to stdout and fans it out to extra sinks.
type printer struct {
	out   io.Writer
	json  bool
	extra []func(detector.NoteEvent)
}

func newPrinter(out io.Writer, jsonOut bool) *printer {
	return &printer{out: out, json: jsonOut}
}

func (p *printer) with(fn func(detector.NoteEvent)) *printer {
	p.extra = append(p.extra, fn)
	return p
}

func (p *printer) handle(e detector.NoteEvent) {
	if p.json {
		b, err := json.Marshal(e)
		if err == nil {
			fmt.Fprintf(p.out, "%s\n", b)
		}
	} else {
		fmt.Fprintf(p.out, "%-2s  %8.2f Hz  confidence %.2f  t=%d\n",
			e.PitchClass, e.Frequency, e.Confidence, e.TimestampMs)
	}
	for _, fn := range p.extra {
		fn(e)
	}
}
