package preflight

import (
	"context"

	"chronicler/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// CheckPaths verifies the directories a run writes to.
func CheckPaths(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	return results
}

// RunAll executes the path checks and, when probeProvider is set, one
// provider request. The provider probe counts against the provider's own
// rate limits, so callers opt in.
func RunAll(ctx context.Context, cfg *config.Config, probeProvider bool) []Result {
	if cfg == nil {
		return nil
	}
	results := CheckPaths(cfg)
	if probeProvider {
		results = append(results, CheckProvider(ctx, cfg.Provider))
	}
	return results
}
