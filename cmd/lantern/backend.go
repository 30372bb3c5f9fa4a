package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lanternai/lantern/internal/capability"
	"github.com/lanternai/lantern/internal/config"
	"github.com/lanternai/lantern/internal/runtime"
)

// openBackend selects the inference backend. The native model binding
// is platform-specific and linked in by downstream builds; this build
// ships the scripted development backend so the full loop can be
// exercised without model weights.
func openBackend(logger *slog.Logger, cfg *config.Config) (runtime.Backend, error) {
	if cfg.Model.Path != "" {
		return nil, fmt.Errorf("model %q: native runtime not linked into this build", cfg.Model.Path)
	}
	logger.Warn("no model configured, using scripted development backend")
	reply := "This build runs the scripted development backend. " +
		"Configure model.path with a native runtime to chat with a real model."
	return runtime.NewScripted(reply, cfg.Model.ContextLength, cfg.Model.BatchSize), nil
}

// clockProvider is a built-in capability so tool dispatch works without
// any external integration.
type clockProvider struct{}

func (clockProvider) Name() string { return "clock" }

func (clockProvider) Operations() []capability.Operation {
	return []capability.Operation{{
		Name:        "get_current_time",
		Description: "Get the current local date and time.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}}
}

func (clockProvider) Invoke(ctx context.Context, operation string, args map[string]any) (string, error) {
	if operation != "get_current_time" {
		return "", &capability.OperationUnavailableError{Operation: operation}
	}
	return time.Now().Format(time.RFC1123), nil
}
