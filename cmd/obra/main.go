// obra is the sales copilot backend for construction-supply distributors.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/matiasleandrokruk/obra/internal/app"
	"github.com/matiasleandrokruk/obra/internal/infra/config"
	"github.com/matiasleandrokruk/obra/internal/infra/logger"
	"github.com/matiasleandrokruk/obra/internal/infra/sqlite"
	"github.com/matiasleandrokruk/obra/internal/mcp"
	"github.com/matiasleandrokruk/obra/internal/server"
	"github.com/matiasleandrokruk/obra/internal/version"
	pkgauth "github.com/matiasleandrokruk/obra/pkg/auth"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if err := newApp(out, errOut).Run(args); err != nil {
		fmt.Fprintln(errOut, "obra:", err) //nolint:errcheck
		return 1
	}
	return 0
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "obra",
		Usage:     "AI sales copilot for construction-supply distributors",
		Version:   version.Version,
		Writer:    out,
		ErrWriter: errOut,
		// run owns the exit code
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{config.EnvConfigFile},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: migrateCommand,
			},
			{
				Name:   "backfill",
				Usage:  "Embed pending and failed knowledge chunks",
				Action: backfillCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum chunks to embed, 0 for the default batch",
						Value: 0,
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Action: mcpCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "workspace",
						Aliases:  []string{"w"},
						Usage:    "Workspace the tools act on",
						EnvVars:  []string{"OBRA_WORKSPACE"},
						Required: true,
					},
				},
			},
			{
				Name:   "token",
				Usage:  "Mint a bearer token for local development",
				Action: tokenCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: pkgauth.DefaultTTL},
				},
			},
			{
				Name:   "version",
				Usage:  "Print build information",
				Action: versionCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print as JSON"},
				},
			},
		},
	}
}

// setup loads the configuration and builds the root logger.
func setup(c *cli.Context) (config.Config, zerolog.Logger, error) {
	var opts []config.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log, app.ServiceName), nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func closeApp(a *app.App, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Error().Err(err).Msg("close")
	}
}

func serveCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return app.ErrNoJWTSecret
	}
	ctx, stop := signalContext(c)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeApp(a, log)

	handler, err := a.Handler(ctx)
	if err != nil {
		return err
	}
	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.HTTP.Addr()
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout

	log.Info().Str("version", version.Version).Msg("starting obra")
	return server.New(handler, srvCfg, log).Run(ctx)
}

func migrateCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	db, err := sqlite.NewDB(c.Context, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := sqlite.MigrateUp(c.Context, db, log)
	if err != nil {
		return err
	}
	current, err := sqlite.Version(c.Context, db)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "applied %d migration(s), schema version %d\n", applied, current)
	return err
}

func backfillCommand(c *cli.Context) error {
	limit := c.Int("limit")
	if limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeApp(a, log)

	report, err := a.Index.Backfill(ctx, limit)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, report)
}

func mcpCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeApp(a, log)

	srv, err := mcp.NewServer(mcp.Services{
		Search:    a.Search,
		Leads:     a.Leads,
		Discounts: a.Discounts,
	}, c.String("workspace"), version.Version, log)
	if err != nil {
		return err
	}
	log.Info().Str("workspace", c.String("workspace")).Msg("serving mcp on stdio")
	return srv.Run(ctx, &mcpsdk.StdioTransport{})
}

func tokenCommand(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return app.ErrNoJWTSecret
	}
	signer, err := pkgauth.NewSigner(cfg.Auth.JWTSecret, c.Duration("ttl"))
	if err != nil {
		return err
	}
	token, err := signer.Sign(c.String("user"), c.String("workspace"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, token)
	return err
}

func versionCommand(c *cli.Context) error {
	if c.Bool("json") {
		return writeJSON(c.App.Writer, version.Get())
	}
	_, err := fmt.Fprintln(c.App.Writer, version.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
