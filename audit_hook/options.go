package audithook

import (
	"log/slog"
	"slices"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions records only the listed actions instead of all of them.
// Names outside AllActions are dropped.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		known := AllActions()
		e.enabled = map[string]bool{}
		for _, a := range actions {
			if slices.Contains(known, a) {
				e.enabled[a] = true
			}
		}
	}
}

// WithMinSeverity skips events below sev, which is one of SeverityInfo,
// SeverityWarning or SeverityCritical. With SeverityWarning only
// failures and cancellations are recorded.
func WithMinSeverity(sev string) Option {
	return func(e *Extension) { e.minRank = severityRank(sev) }
}

// WithLogger sets where recorder failures are reported.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

func severityRank(sev string) int {
	switch sev {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}
