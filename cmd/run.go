package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/secondhand-monitor/internal/artifacts"
	"github.com/example/secondhand-monitor/internal/config"
	"github.com/example/secondhand-monitor/internal/credentials"
	"github.com/example/secondhand-monitor/internal/handoff"
	"github.com/example/secondhand-monitor/internal/metrics"
	"github.com/example/secondhand-monitor/internal/monitor"
	"github.com/example/secondhand-monitor/internal/transport"
)

func newRunCmd() *cobra.Command {
	var (
		baseURL      string
		eventSlug    string
		interval     time.Duration
		pollInactive time.Duration
		itemFilter   string
		sortOrder    string
		webhookURL   string
		dryRun       bool
		responseDir  string
		stateFile    string
		statePass    string
		metricsAddr  string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor against one event until a listing is reserved",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{
				BaseURL:          baseURL,
				EventSlug:        eventSlug,
				PollInterval:     interval,
				InactiveInterval: pollInactive,
				ItemFilter:       itemFilter,
				SortOrder:        sortOrder,
				WebhookURL:       webhookURL,
				DryRun:           dryRun,
				ResponseDir:      responseDir,
				StateFile:        stateFile,
				StatePass:        statePass,
				MetricsAddr:      metricsAddr,
				LogLevel:         logLevel,
				UserAgent:        config.DefaultUserAgent,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := newLogger(cfg.LogLevel)
			log.Info().Interface("config", cfg.Redacted()).Msg("starting monitor")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runMonitor(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", getenv("MONITOR_BASE_URL", ""), "base URL of the ticket shop (e.g. https://tickets.example.com)")
	cmd.Flags().StringVar(&eventSlug, "event", getenv("MONITOR_EVENT", ""), "event slug")
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultPollInterval, "marketplace poll interval")
	cmd.Flags().DurationVar(&pollInactive, "poll-inactive", 0, "when the marketplace link is missing, re-check the event page on this interval instead of failing (0 = fail)")
	cmd.Flags().StringVar(&itemFilter, "item", "", "filter listings by item ID (empty = all)")
	cmd.Flags().StringVar(&sortOrder, "sort", config.DefaultSortOrder, "listing sort order: price_asc, price_desc, newest, oldest")
	cmd.Flags().StringVar(&webhookURL, "webhook", getenv("MONITOR_WEBHOOK_URL", ""), "deliver the handoff payload to this webhook URL")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the first listing without reserving it")
	cmd.Flags().StringVar(&responseDir, "response-dir", "", "save unusual responses and reservation transcripts here")
	cmd.Flags().StringVar(&stateFile, "state-file", getenv("MONITOR_STATE_FILE", ""), "persist session credentials to this file")
	cmd.Flags().StringVar(&statePass, "state-pass", getenv("MONITOR_STATE_PASS", ""), "passphrase for the state file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address (empty = off)")
	cmd.Flags().StringVar(&logLevel, "log-level", getenv("MONITOR_LOG_LEVEL", "info"), "log level: debug, info, warn, error")

	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runMonitor(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	creds := loadCredentials(cfg, log)
	client := transport.New(creds, transport.Options{UserAgent: cfg.UserAgent})
	defer client.CloseIdle()

	var saver *artifacts.Saver
	if cfg.ResponseDir != "" {
		var err error
		saver, err = artifacts.NewSaver(cfg.ResponseDir, log)
		if err != nil {
			return err
		}
		defer saver.Flush()
		log.Info().Str("dir", saver.Dir()).Msg("saving unusual responses")
	}

	sinks := []handoff.Sink{handoff.ConsoleSink{Log: log}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, handoff.NewWebhookSink(cfg.WebhookURL))
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		metrics.Register(mux)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer srv.Close()
	}

	engine := monitor.New(cfg, client, creds, handoff.Sinks(sinks...), saver, log)
	outcome := engine.Run(ctx)

	if cfg.StateFile != "" && creds.Len() > 0 {
		if err := creds.Save(cfg.StateFile, cfg.StatePass); err != nil {
			log.Error().Err(err).Msg("state save failed")
		} else {
			log.Info().Str("file", cfg.StateFile).Msg("session state saved")
		}
	}

	if !outcome.Succeeded() {
		log.Error().Str("reason", outcome.Reason).Msg("monitor finished without a reservation")
		return fmt.Errorf("monitor failed: %s", outcome.Reason)
	}

	log.Info().Str("checkout", outcome.CheckoutURL).Msg("monitor finished: reservation held")
	exportCookies(cfg, outcome, log)
	return nil
}

func loadCredentials(cfg config.Config, log zerolog.Logger) *credentials.Store {
	if cfg.StateFile != "" {
		if _, err := os.Stat(cfg.StateFile); err == nil {
			creds, err := credentials.Load(cfg.StateFile, cfg.StatePass)
			if err == nil {
				log.Info().Str("file", cfg.StateFile).Int("cookies", creds.Len()).Msg("resumed session state")
				return creds
			}
			log.Warn().Err(err).Msg("state file unreadable; starting a fresh session")
		}
	}
	return credentials.NewStore()
}

// exportCookies writes the winning session to cookie files next to the
// debug artifacts, for checkout from another machine.
func exportCookies(cfg config.Config, outcome monitor.Outcome, log zerolog.Logger) {
	if cfg.ResponseDir == "" || outcome.Credentials == nil {
		return
	}
	entries := handoff.Entries(outcome.Credentials)
	stamp := time.Now().Format("20060102_150405")

	txt := filepath.Join(cfg.ResponseDir, "cookies_"+stamp+".txt")
	if err := handoff.WriteNetscape(txt, cfg.Domain(), entries); err != nil {
		log.Error().Err(err).Msg("netscape cookie export failed")
	} else {
		log.Info().Str("file", txt).Msg("cookies exported")
	}

	js := filepath.Join(cfg.ResponseDir, "cookies_"+stamp+".json")
	if err := handoff.WriteJSON(js, cfg.BaseURL, cfg.Domain(), entries); err != nil {
		log.Error().Err(err).Msg("json cookie export failed")
	} else {
		log.Info().Str("file", js).Msg("cookies exported")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
