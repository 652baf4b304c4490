package debug

import "fmt"

// AddWatch adds a watch expression.
func (s *Store) AddWatch(expression string) {
	s.mu.Lock()
	s.watches = append(s.watches, expression)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeWatches})
}

// RemoveWatch removes a watch expression by index.
func (s *Store) RemoveWatch(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.watches) {
		s.mu.Unlock()
		return fmt.Errorf("watch index %d out of range", index)
	}
	s.watches = append(s.watches[:index:index], s.watches[index+1:]...)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeWatches})
	return nil
}

// ClearWatches removes all watch expressions.
func (s *Store) ClearWatches() {
	s.mu.Lock()
	s.watches = nil
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeWatches})
}

// Watches returns the current watch expressions.
func (s *Store) Watches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.watches...)
}

// WatchResult is the value of one watch expression at the last stop.
type WatchResult struct {
	Expression string
	Value      string
	Type       string
	Ref        int
	Err        error
}

// evaluateWatches evaluates every watch in the selected frame, then calls
// done. Results replace the previous ones as a whole.
func (s *Session) evaluateWatches(done func()) {
	exprs := s.mgr.store.Watches()
	if len(exprs) == 0 || s.client == nil {
		s.watches = nil
		done()
		return
	}

	results := make([]WatchResult, len(exprs))
	pending := len(exprs)
	gen := s.generation
	for i, expr := range exprs {
		results[i].Expression = expr
		s.Evaluate(expr, EvalWatch, func(r EvalResult, err error) {
			if err != nil {
				results[i].Err = err
			} else {
				results[i].Value = r.Result
				results[i].Type = r.Type
				results[i].Ref = r.Ref
			}
			pending--
			if pending == 0 {
				if gen == s.generation {
					s.watches = results
				}
				done()
			}
		})
	}
}

// Watches returns the watch results of the last stop.
func (s *Session) Watches() []WatchResult {
	return append([]WatchResult(nil), s.watches...)
}
