package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"receipt-agent/handler"
	"receipt-agent/internal/app"
	"receipt-agent/internal/config"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(envOr("CONFIG_FILE", "/var/task/config.toml"))
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if !cfg.UseParamStore() && !cfg.Credentials().Usable() {
		slog.Error("no API key configured: set MNX_API_KEY or PARAM_PREFIX")
		os.Exit(1)
	}

	// ---- Clients and use cases ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	svc := handler.Services{
		Capture:  a.Capture,
		Chat:     a.Chat,
		Receipts: a.Receipts,
	}
	if a.Journal != nil {
		svc.Captures = a.Journal
	}
	h, err := handler.NewHandler(svc, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
