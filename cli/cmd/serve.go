package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/adapter"
	"github.com/TheKidThatCodes/ccbridge/adapter/redis"
	"github.com/TheKidThatCodes/ccbridge/adapter/webhook"
	"github.com/TheKidThatCodes/ccbridge/cli/config"
	"github.com/TheKidThatCodes/ccbridge/log"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/server"
	"github.com/TheKidThatCodes/ccbridge/session"
)

// DefaultListen is the serve address when neither flag nor config sets one.
const DefaultListen = "127.0.0.1:8080"

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the client program and run a host program for every computer that connects",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (default " + DefaultListen + ")",
			},
			&cli.StringFlag{
				Name:  "program",
				Usage: "Host script run against each connected computer",
			},
			&cli.IntFlag{
				Name:  "max-in-flight",
				Usage: "Outstanding requests per session (default 1)",
			},
			&cli.DurationFlag{
				Name:  "call-timeout",
				Usage: "Timeout for each remote call (0 disables)",
			},
			&cli.DurationFlag{
				Name:  "hello-timeout",
				Usage: "Timeout waiting for a client's hello",
			},
			&cli.DurationFlag{
				Name:  "script-timeout",
				Usage: "Timeout for each program run (0 disables)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Program == "" {
		return cli.Exit("serve requires --program or program in the config file", 1)
	}
	if _, err := os.Stat(cfg.Program); err != nil {
		return cli.Exit(fmt.Sprintf("program: %v", err), 1)
	}
	listen := cfg.Listen
	if listen == "" {
		listen = DefaultListen
	}

	logger := log.NewLogger(log.Context{Remote: listen})
	defer func() { _ = logger.Sync() }()

	ad, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), 1)
	}
	if ad != nil {
		defer func() { _ = ad.Close() }()
		logger.Info("adapter configured", map[string]any{"type": cfg.Adapter.Type})
	}

	srv, err := server.New(server.Config{
		Program: cfg.Program,
		Session: session.Options{
			MaxInFlight: cfg.Session.MaxInFlight,
			CallTimeout: cfg.Session.CallTimeout.Duration,
		},
		ScriptTimeout: cfg.Sandbox.ScriptTimeout.Duration,
		HelloTimeout:  cfg.Session.HelloTimeout.Duration,
		Stdout:        c.App.Writer,
		Adapter:       ad,
		Logger:        logger,
		Metrics:       metrics.NewCollector("websocket", listen),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, listen)
}

// buildAdapter constructs the configured adapter, or nil when none is.
func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := webhook.DefaultRetries
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	switch ac.Type {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		a, err := webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Secret:  ac.Secret,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.AdapterRedis:
		a, err := redis.New(redis.Config{
			URL:          ac.URL,
			Channel:      ac.Channel,
			PerComputer:  ac.PerComputer,
			StatusPrefix: ac.StatusPrefix,
			Timeout:      ac.Timeout.Duration,
			Retries:      retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}
