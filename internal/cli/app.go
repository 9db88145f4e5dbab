package cli

import (
	"context"

	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/neoclaw-ai/turnrouter/internal/container"
)

var newContainer = container.New

// loadApp loads and validates config and wires the services.
func loadApp(ctx context.Context) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newContainer(ctx, cfg)
}
