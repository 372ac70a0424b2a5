package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"receipt-agent/internal/config"
	"receipt-agent/internal/repository"
)

func TestNew_StaticCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "mnx-key"

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NotNil(t, a.Client)
	require.NotNil(t, a.Capture)
	require.NotNil(t, a.Chat)
	require.NotNil(t, a.Receipts)
	require.Nil(t, a.Journal)
	require.True(t, a.Client.Status(context.Background()).Connected)
}

func TestNew_MissingKeyIsDisconnected(t *testing.T) {
	a, err := New(context.Background(), config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "a missing key degrades the client instead of failing startup")

	st := a.Client.Status(context.Background())
	require.False(t, st.Connected)
	require.Contains(t, st.Reason, "api_key_missing")
}

func TestNew_CaptureTableEnablesJournal(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := config.Default()
	cfg.APIKey = "mnx-key"
	cfg.CaptureTable = "receipt-captures"

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.IsType(t, &repository.Client{}, a.Journal)
}
