package debug

import (
	godap "github.com/google/go-dap"
)

// ExceptionFilter is an adapter exception filter and whether it is on.
type ExceptionFilter struct {
	Filter  string
	Label   string
	Default bool
	Enabled bool
}

// ReconcileExceptionFilters merges an adapter's filters with the user's
// choices and remembers the result. Filters the user never touched take the
// adapter default.
func (s *Store) ReconcileExceptionFilters(available []godap.ExceptionBreakpointsFilter) []ExceptionFilter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExceptionFilter, 0, len(available))
	for _, f := range available {
		enabled, chosen := s.exceptions[f.Filter]
		if !chosen {
			enabled = f.Default
		}
		out = append(out, ExceptionFilter{
			Filter:  f.Filter,
			Label:   f.Label,
			Default: f.Default,
			Enabled: enabled,
		})
	}
	s.filters = out
	return append([]ExceptionFilter(nil), out...)
}

// ExceptionFilters returns the filters last reconciled.
func (s *Store) ExceptionFilters() []ExceptionFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExceptionFilter(nil), s.filters...)
}

// SetExceptionFilter records the user's choice for filter. The choice
// applies to every session, present and future.
func (s *Store) SetExceptionFilter(filter string, enabled bool) {
	s.mu.Lock()
	s.exceptions[filter] = enabled
	for i := range s.filters {
		if s.filters[i].Filter == filter {
			s.filters[i].Enabled = enabled
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeExceptions})
}

// ToggleExceptionFilter flips filter and returns its new state.
func (s *Store) ToggleExceptionFilter(filter string) bool {
	s.mu.RLock()
	enabled, chosen := s.exceptions[filter]
	if !chosen {
		for _, f := range s.filters {
			if f.Filter == filter {
				enabled = f.Enabled
			}
		}
	}
	s.mu.RUnlock()

	s.SetExceptionFilter(filter, !enabled)
	return !enabled
}

// enabledFilters returns the ids of the enabled filters among available.
func enabledFilters(filters []ExceptionFilter) []string {
	ids := make([]string, 0, len(filters))
	for _, f := range filters {
		if f.Enabled {
			ids = append(ids, f.Filter)
		}
	}
	return ids
}
