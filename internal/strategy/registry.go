package strategy

import (
	"log/slog"
)

// Registry owns every registered Strategy and dispatches detection calls to
// whichever ones are both enabled and applicable to the given context.
type Registry struct {
	all     map[string]Strategy
	enabled map[string]bool
	logger  *slog.Logger
}

// NewRegistry builds a registry with the given strategies enabled. Unknown
// names are skipped with a warning, per the configured name normalization.
func NewRegistry(strategies []Strategy, enabledNames []string, logger *slog.Logger) *Registry {
	r := &Registry{
		all:     make(map[string]Strategy, len(strategies)),
		enabled: make(map[string]bool, len(enabledNames)),
		logger:  logger,
	}
	for _, s := range strategies {
		r.all[string(s.Name())] = s
	}
	for _, name := range enabledNames {
		n := NormalizeName(name)
		if _, ok := r.all[n]; !ok {
			if logger != nil {
				logger.Warn("unknown strategy name in config, skipping", "name", name)
			}
			continue
		}
		r.enabled[n] = true
	}
	return r
}

// Dispatch runs every enabled, applicable strategy against ctx and returns
// one DetectionResult per strategy that ran.
func (r *Registry) Dispatch(mc MarketContext, dc DetectionContext) []DetectionResult {
	var results []DetectionResult
	for name, s := range r.all {
		if !r.enabled[name] {
			continue
		}
		if !s.AppliesTo(mc) {
			continue
		}
		results = append(results, s.Detect(dc))
	}
	return results
}

// Enabled returns the enabled strategies, for callers that need to drive
// WarmStart directly (e.g. after a successful execution).
func (r *Registry) Enabled() []Strategy {
	out := make([]Strategy, 0, len(r.enabled))
	for name := range r.enabled {
		out = append(out, r.all[name])
	}
	return out
}
