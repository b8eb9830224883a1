package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/chatrelay/internal/broker"
	"github.com/Tyrowin/chatrelay/internal/server"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

type flags struct {
	ConfigPath     string
	Port           string
	AllowedOrigins string
	LogLevel       string
	LogFormat      string
}

func main() {
	if err := setupLogger("info", "console"); err != nil {
		panic(err)
	}

	if err := newApp(run).Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("chat relay failed")
		os.Exit(1)
	}
}

// newApp builds the command line interface. serve receives the resolved
// configuration once flags and the config file are merged.
func newApp(serve func(ctx context.Context, cfg *server.Config) error) *cli.Command {
	f := &flags{}

	return &cli.Command{
		Name:    "chat-relay",
		Usage:   "Real-time chat relay over WebSockets",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config file (optional)",
				Sources:     cli.EnvVars("CHAT_CONFIG"),
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "port",
				Usage:       "listen port, e.g. 3000 or :3000",
				Sources:     cli.EnvVars("PORT"),
				Destination: &f.Port,
			},
			&cli.StringFlag{
				Name:        "allowed-origins",
				Usage:       "comma separated origins allowed to connect (* allows all)",
				Sources:     cli.EnvVars("ALLOWED_ORIGINS"),
				Destination: &f.AllowedOrigins,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (console, json)",
				Sources:     cli.EnvVars("LOG_FORMAT"),
				Value:       "console",
				Destination: &f.LogFormat,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := setupLogger(f.LogLevel, f.LogFormat); err != nil {
				return err
			}

			cfg, err := loadConfig(c, f)
			if err != nil {
				return err
			}

			return serve(ctx, cfg)
		},
	}
}

func loadConfig(c *cli.Command, f *flags) (*server.Config, error) {
	cfg, err := server.LoadConfig(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.IsSet("port") {
		cfg.SetPort(f.Port)
	}
	if c.IsSet("allowed-origins") {
		cfg.SetAllowedOrigins(f.AllowedOrigins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *server.Config) error {
	hub := server.NewHub(
		log.With().Str("component", "hub").Logger(),
		broker.WithHistoryLimit(cfg.HistoryLimit),
	)
	server.StartHub(hub)

	handlers := server.NewHandlers(hub, cfg, log.With().Str("component", "http").Logger())
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handlers))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	printStartupInfo(cfg.Port)

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			return server.ShutdownServer(ctx, httpServer)
		},
		"hub": func(ctx context.Context) error {
			return hub.Shutdown(ctx)
		},
	})

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
		log.Info().Msg("chat relay stopped")
		return nil
	}
}

func printStartupInfo(port string) {
	base := "http://localhost" + port
	log.Info().
		Str("chat", base).
		Str("admin", base+"/admin").
		Str("api", base+"/api/test").
		Msg("chat relay started")
}

func setupLogger(level, format string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer
	switch strings.ToLower(format) {
	case "json":
		output = os.Stderr
	case "console", "":
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(parsedLevel)
	return nil
}
