package image

import (
	"context"

	"github.com/tetratelabs/wazero"
)

// Engine wraps a wazero runtime shared by every image loader of one
// manager. Dependencies loaded under a name are registered in the
// runtime's module namespace, which is how an image's imports find them.
type Engine struct {
	runtime wazero.Runtime
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages
	// (64KB each). 0 means the wazero default.
	MemoryLimitPages uint32
}

// NewEngine creates a new wazero-based engine
func NewEngine(ctx context.Context) (*Engine, error) {
	return NewEngineWithConfig(ctx, nil)
}

// NewEngineWithConfig creates a new engine with custom configuration
func NewEngineWithConfig(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

// Resident reports whether a module is instantiated in the engine's
// namespace under the given name.
func (e *Engine) Resident(name string) bool {
	return e.runtime.Module(name) != nil
}

// Close shuts down the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
