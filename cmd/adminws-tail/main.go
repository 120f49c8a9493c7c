// Command adminws-tail connects to the admin metrics stream and prints every snapshot as a JSON
// line on stdout. State changes and errors go to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sonirico/adminws"
)

type options struct {
	configPath   string
	url          string
	discoveryURL string
	origin       string
	token        string
	logLevel     string
	pretty       bool
}

func parseFlags(args []string) (options, error) {
	var o options

	fs := pflag.NewFlagSet("adminws-tail", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "yaml config file")
	fs.StringVar(&o.url, "url", "", "fixed websocket endpoint, skips discovery")
	fs.StringVar(&o.discoveryURL, "discovery-url", "", "endpoint discovery url")
	fs.StringVar(&o.origin, "origin", "", "origin used to derive the fallback endpoint")
	fs.StringVarP(&o.token, "token", "t", os.Getenv("ADMINWS_TOKEN"), "access token (default $ADMINWS_TOKEN)")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&o.pretty, "pretty", false, "human friendly logs")

	return o, fs.Parse(args)
}

func loadConfig(o options) (adminws.Config, error) {
	cfg := adminws.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = adminws.LoadConfig(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.discoveryURL != "" {
		cfg.DiscoveryURL = o.discoveryURL
	}
	if o.origin != "" {
		cfg.Origin = o.origin
	}
	return cfg, cfg.Validate()
}

func newLogger(o options) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return zerolog.Nop(), err
	}

	var l zerolog.Logger
	if o.pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Logger(), nil
}

type metricsLine struct {
	Timestamp  string          `json:"timestamp"`
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

func run(ctx context.Context, o options) error {
	zl, err := newLogger(o)
	if err != nil {
		return err
	}
	logger := adminws.NewZerologLogger(zl)

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	manager, err := adminws.NewConnectionManager(
		cfg,
		adminws.StaticToken(o.token),
		adminws.WithLogger(logger),
		adminws.WithLifecycle(adminws.NewSignalLifecycle(logger)),
	)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)

	manager.On(adminws.EventStateChange, func(e adminws.Event) {
		ev := zl.Info().Str("status", e.State.Status.String()).Int("reconnect_count", e.State.ReconnectCount)
		if e.State.Error != "" {
			ev = ev.Str("error", e.State.Error)
		}
		ev.Msg("state change")
	})
	manager.On(adminws.EventAuthSuccess, func(e adminws.Event) {
		ev := zl.Info()
		if len(e.User) > 0 {
			ev = ev.RawJSON("user", e.User)
		}
		ev.Msg("authenticated")
	})
	manager.On(adminws.EventError, func(e adminws.Event) {
		zl.Error().Str("message", e.Message).Msg("server error")
	})
	manager.On(adminws.EventMetrics, func(e adminws.Event) {
		line := metricsLine{Timestamp: e.Metrics.Timestamp, ReceivedAt: e.Metrics.ReceivedAt, Data: e.Metrics.Data}
		if err := encoder.Encode(line); err != nil {
			zl.Error().Err(err).Msg("cannot write metrics")
		}
	})

	manager.Connect()

	<-ctx.Done()
	manager.Close()

	select {
	case <-manager.Done():
	case <-time.After(5 * time.Second):
		zl.Warn().Msg("manager did not stop in time")
	}
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
