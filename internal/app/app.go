// Package app wires configuration into the service client and use cases
// shared by the command-line and Lambda drivers.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"receipt-agent/internal/config"
	"receipt-agent/internal/integrations/mnx"
	"receipt-agent/internal/integrations/paramstore"
	"receipt-agent/internal/repository"
	"receipt-agent/internal/usecase"
)

type App struct {
	Config   config.Config
	Client   *mnx.Client
	Capture  *usecase.CaptureService
	Chat     *usecase.ChatService
	Receipts *usecase.ReceiptService
	// Journal is nil unless a capture table is configured.
	Journal repository.Journal
}

// New builds the application. AWS configuration is loaded only when keys
// live in Parameter Store or a capture journal table is set.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	// ---- Credentials ----
	var creds mnx.CredentialSource = mnx.StaticCredentials(cfg.Credentials())
	if cfg.UseParamStore() {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		keys, err := paramstore.New(awsssm.NewFromConfig(ac), cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("app: create parameter store client: %w", err)
		}
		creds = keys
	}

	// ---- Clients ----
	client, err := mnx.NewClient(creds, append(cfg.ClientOptions(), mnx.WithLogger(logger))...)
	if err != nil {
		return nil, fmt.Errorf("app: create service client: %w", err)
	}

	a := &App{Config: cfg, Client: client}
	captureOpts := []usecase.CaptureOption{usecase.WithCaptureLogger(logger)}
	if cfg.CaptureTable != "" {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		journal, err := repository.New(awsdynamodb.NewFromConfig(ac), cfg.CaptureTable)
		if err != nil {
			return nil, fmt.Errorf("app: create capture journal: %w", err)
		}
		a.Journal = journal
		captureOpts = append(captureOpts, usecase.WithJournal(journal))
	}

	// ---- Use cases ----
	if a.Capture, err = usecase.NewCaptureService(client, cfg.Model, captureOpts...); err != nil {
		return nil, fmt.Errorf("app: create capture service: %w", err)
	}
	if a.Chat, err = usecase.NewChatService(client, cfg.Model, logger); err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}
	if a.Receipts, err = usecase.NewReceiptService(client, logger); err != nil {
		return nil, fmt.Errorf("app: create receipt service: %w", err)
	}
	return a, nil
}
