package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A-ryanVAT-S/Provify/internal/ai"
	"github.com/A-ryanVAT-S/Provify/internal/config"
	"github.com/A-ryanVAT-S/Provify/internal/consensus"
	"github.com/A-ryanVAT-S/Provify/internal/devices"
	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/oracle"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.APIKeyEnv, "")
	cfg, err := config.Load(config.WithWorkingDir(dir), config.WithOverrides(map[string]any{
		config.KeyStorageBackend: config.BackendBolt,
		config.KeyStorageDir:     dir,
		config.KeyDevicesStatic:  []string{"emulator-5554"},
	}))
	require.NoError(t, err)

	svc, err := Open(context.Background(), cfg, "test", Deps{})
	require.NoError(t, err)
	defer svc.Close()

	// no key: the deterministic fallback names the package
	bug, err := svc.Store.Intake(context.Background(), "Whats App", "", "Voice note stops after 3 seconds")
	require.NoError(t, err)
	assert.Equal(t, "com.whatsapp", bug.AppPackage)
	assert.Equal(t, types.DefaultSeverity, *bug.Severity)

	assert.Equal(t, []types.Target{{ID: "emulator-5554", Name: "emulator-5554"}}, svc.Devices.Available(context.Background()))
}

func TestNewResolverFallsBackWithoutKey(t *testing.T) {
	cfg := &config.Config{AI: config.AIConfig{Enabled: true}}
	_, ok := newResolver(cfg, logging.New("test")).(ai.Fallback)
	assert.True(t, ok)

	cfg.AI.APIKey = "sk-test"
	cfg.AI.Enabled = false
	_, ok = newResolver(cfg, logging.New("test")).(ai.Fallback)
	assert.True(t, ok)
}

func TestServiceVerifyAndFix(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewBackend(ctx, storage.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	verifier := oracle.NewClient(oracle.Func(func(context.Context, types.Target, *types.Bug, oracle.ProgressFunc) (*oracle.Report, error) {
		return &oracle.Report{Reproduced: true, Observations: "crash"}, nil
	}), oracle.DefaultConfig())

	svc, err := Open(ctx, &config.Config{}, "test", Deps{
		Backend:    backend,
		Resolver:   ai.Fallback{},
		Verifier:   verifier,
		Discoverer: devices.StaticDiscoverer{"dev1"},
	})
	require.NoError(t, err)
	defer svc.Close()

	bug, err := svc.Store.Intake(ctx, "App", "com.app", "Crash on launch")
	require.NoError(t, err)

	_, err = svc.MarkFixed(ctx, bug.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	summary, err := svc.VerifyBug(ctx, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, summary.Outcome)
	assert.Equal(t, oracle.DefaultSteps, summary.Steps)
	assert.Equal(t, types.ConfidenceHigh, summary.Confidence)

	fixed, err := svc.MarkFixed(ctx, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFixed, fixed.Status)

	results, err := svc.ReverifyFixed(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Regression)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("get: %w", storage.ErrNotFound), "not_found"},
		{consensus.ErrNoTargets, "conflict"},
		{fmt.Errorf("bug x: %w", types.ErrInvalidTransition), "conflict"},
		{storage.ErrEmptyBatch, "invalid"},
		{fmt.Errorf("%w: app_name is required", storage.ErrInvalidInput), "invalid"},
		{fmt.Errorf("%w: \"x\"", types.ErrInvalidStatus), "invalid"},
		{fmt.Errorf("%w: disk full", storage.ErrPersistence), "internal"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}
