// Package service wires configuration into a ready bug store, consensus
// engine and device registry shared by every surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/A-ryanVAT-S/Provify/internal/ai"
	"github.com/A-ryanVAT-S/Provify/internal/config"
	"github.com/A-ryanVAT-S/Provify/internal/consensus"
	"github.com/A-ryanVAT-S/Provify/internal/devices"
	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/metrics"
	"github.com/A-ryanVAT-S/Provify/internal/oracle"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Service bundles the components an operation needs
type Service struct {
	Store   *storage.Store
	Engine  *consensus.Engine
	Devices *devices.Registry
	Metrics *metrics.Prometheus
	Version string

	log *slog.Logger
}

// Deps are the replaceable parts of a Service, for tests and embedding.
type Deps struct {
	Backend    storage.Backend
	Resolver   ai.Resolver
	Verifier   consensus.Verifier
	Discoverer devices.Discoverer
}

// Open builds a Service from cfg. Any non-nil field of deps replaces the
// component cfg would have built.
func Open(ctx context.Context, cfg *config.Config, version string, deps Deps) (*Service, error) {
	log := logging.New("service")
	m := metrics.NewPrometheus()

	backend := deps.Backend
	if backend == nil {
		var err error
		backend, err = storage.NewBackend(ctx, storage.Config{Backend: cfg.Storage.Backend, Dir: cfg.Storage.Dir})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
		}
	}

	resolver := deps.Resolver
	if resolver == nil {
		resolver = newResolver(cfg, log)
	}

	store, err := storage.Open(ctx, backend, storage.WithResolver(resolver), storage.WithMetrics(m))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	verifier := deps.Verifier
	if verifier == nil {
		agent := oracle.NewAgentOracle(oracle.AgentConfig{
			Command: cfg.Oracle.Command,
			Args:    cfg.Oracle.Args,
		})
		verifier = oracle.NewClient(agent, oracle.Config{
			Timeout:       cfg.Oracle.Timeout,
			MaxSteps:      cfg.Oracle.MaxSteps,
			MaxStepLength: cfg.Oracle.MaxStepLength,
		})
	}

	discoverer := deps.Discoverer
	if discoverer == nil {
		discoverer = devices.FromConfig(cfg.Devices.Command, cfg.Devices.Static)
	}

	return &Service{
		Store:   store,
		Engine:  consensus.NewEngine(store, verifier, consensus.WithMetrics(m)),
		Devices: devices.NewRegistry(discoverer),
		Metrics: m,
		Version: version,
		log:     log,
	}, nil
}

// newResolver returns the Anthropic client, or the deterministic fallback
// when AI is disabled or no key is configured.
func newResolver(cfg *config.Config, log *slog.Logger) ai.Resolver {
	if !cfg.AIAvailable() {
		log.Info("AI resolvers disabled, using fallback package ids and default severity")
		return ai.Fallback{}
	}
	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = cfg.AI.MaxRetries
	retry.Timeout = cfg.AI.Timeout
	client, err := ai.NewClient(ai.Config{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		Retry:             retry,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		MaxConcurrent:     cfg.AI.MaxConcurrent,
	})
	if err != nil {
		log.Warn("AI client unavailable, using fallback", "error", err)
		return ai.Fallback{}
	}
	return client
}

// Close releases the store
func (s *Service) Close() error {
	return s.Store.Close()
}

// VerifyBug runs a consensus verification of one bug on every available device.
func (s *Service) VerifyBug(ctx context.Context, id string) (*types.VerificationSummary, error) {
	bug, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Engine.VerifyAcrossTargets(ctx, bug, s.Devices.Available(ctx))
}

// VerifyPending verifies every pending bug in turn
func (s *Service) VerifyPending(ctx context.Context) ([]consensus.BatchResult, error) {
	return s.Engine.VerifyPending(ctx, s.Devices.Available(ctx))
}

// ReverifyFixed re-verifies every fixed bug in turn
func (s *Service) ReverifyFixed(ctx context.Context) ([]consensus.BatchResult, error) {
	return s.Engine.ReverifyFixed(ctx, s.Devices.Available(ctx))
}

// MarkFixed records a developer fix.
func (s *Service) MarkFixed(ctx context.Context, id string) (*types.Bug, error) {
	return s.Store.UpdateStatus(ctx, id, types.StatusFixed, "")
}

// ErrorKind maps an operation error to a short category for surfaces.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, consensus.ErrNoTargets), errors.Is(err, types.ErrInvalidTransition):
		return "conflict"
	case errors.Is(err, storage.ErrEmptyBatch), errors.Is(err, storage.ErrInvalidInput), errors.Is(err, types.ErrInvalidStatus):
		return "invalid"
	default:
		return "internal"
	}
}
