package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sentra-iam/sentra/cmd/sentra/cli"
	"github.com/sentra-iam/sentra/internal/admin"
	"github.com/sentra-iam/sentra/internal/app"
	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
)

func main() {
	os.Exit(run())
}

func run() int {
	file := flag.String("file", "", "policy file to load")
	mode := flag.String("mode", string(cli.LoadModeDry), "dry or apply")
	jsonOut := flag.Bool("json", false, "emit a JSON summary")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	var svc *admin.Service
	if cli.LoadMode(*mode) == cli.LoadModeApply {
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		store := directory.NewRepository(pool)
		svc = admin.NewService(logger, store, sod.NewValidator(store), shared.NewAuditRecorder(pool, logger), cfg.BcryptCost)
		if cfg.SafeNamePattern != "" {
			if err := svc.SetNamePattern(cfg.SafeNamePattern); err != nil {
				logger.Error("configure name pattern", slog.Any("error", err))
				return 1
			}
		}
	}

	loader := cli.NewLoaderCLI(svc, logger)
	return loader.LoadCommand(ctx, cli.LoadOptions{
		Path:       *file,
		Mode:       cli.LoadMode(*mode),
		JSONOutput: *jsonOut,
	})
}
