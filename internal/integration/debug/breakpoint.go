package debug

import (
	"fmt"
	"sort"

	godap "github.com/google/go-dap"
)

// BreakpointType represents the type of breakpoint.
type BreakpointType int

const (
	// BreakpointTypeLine is a standard line breakpoint.
	BreakpointTypeLine BreakpointType = iota
	// BreakpointTypeConditional is a breakpoint with a condition.
	BreakpointTypeConditional
	// BreakpointTypeLogPoint is a log point (prints message without stopping).
	BreakpointTypeLogPoint
	// BreakpointTypeFunction is a function breakpoint.
	BreakpointTypeFunction
)

// String returns a string representation of the breakpoint type.
func (t BreakpointType) String() string {
	switch t {
	case BreakpointTypeLine:
		return "line"
	case BreakpointTypeConditional:
		return "conditional"
	case BreakpointTypeLogPoint:
		return "logpoint"
	case BreakpointTypeFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Breakpoint represents a user-defined breakpoint.
type Breakpoint struct {
	// ID is the store's identifier, unrelated to adapter ids.
	ID int `json:"id"`

	Type BreakpointType `json:"type"`

	// Path is the local source file path (for source breakpoints).
	Path string `json:"path,omitempty"`

	// Line is the line number (1-based).
	Line int `json:"line,omitempty"`

	// Condition is the condition expression (for conditional breakpoints).
	Condition string `json:"condition,omitempty"`

	// HitCondition is the hit count condition.
	HitCondition string `json:"hitCondition,omitempty"`

	// LogMessage is the message to log (for log points).
	LogMessage string `json:"logMessage,omitempty"`

	// FunctionName is the function name (for function breakpoints).
	FunctionName string `json:"functionName,omitempty"`

	Enabled bool `json:"enabled"`

	// HitCount is the number of times a session stopped on this breakpoint.
	HitCount int `json:"hitCount"`

	// Acks holds each session's answer for this breakpoint, by session id.
	Acks map[string]Ack `json:"-"`
}

// Ack is what one adapter said about a breakpoint.
type Ack struct {
	// ID is the adapter's id for the breakpoint, 0 when it gave none.
	ID       int
	Verified bool
	Message  string
}

// Verified reports whether any session verified the breakpoint.
func (b Breakpoint) Verified() bool {
	for _, a := range b.Acks {
		if a.Verified {
			return true
		}
	}
	return false
}

// Message returns the first adapter message for the breakpoint.
func (b Breakpoint) Message() string {
	ids := make([]string, 0, len(b.Acks))
	for id := range b.Acks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m := b.Acks[id].Message; m != "" {
			return m
		}
	}
	return ""
}

func (b *Breakpoint) clone() Breakpoint {
	out := *b
	if b.Acks != nil {
		out.Acks = make(map[string]Ack, len(b.Acks))
		for k, v := range b.Acks {
			out.Acks[k] = v
		}
	}
	return out
}

func clones(bps []*Breakpoint) []Breakpoint {
	out := make([]Breakpoint, len(bps))
	for i, bp := range bps {
		out[i] = bp.clone()
	}
	return out
}

// allocateID allocates a new breakpoint ID.
func (s *Store) allocateID() int {
	id := s.nextID
	s.nextID++
	return id
}

// AddLineBreakpoint adds a line breakpoint. A breakpoint already on the
// line is replaced.
func (s *Store) AddLineBreakpoint(path string, line int) Breakpoint {
	return s.SetBreakpoint(Breakpoint{Type: BreakpointTypeLine, Path: path, Line: line})
}

// AddConditionalBreakpoint adds a breakpoint that stops only when condition
// holds.
func (s *Store) AddConditionalBreakpoint(path string, line int, condition string) Breakpoint {
	return s.SetBreakpoint(Breakpoint{Type: BreakpointTypeConditional, Path: path, Line: line, Condition: condition})
}

// AddLogPoint adds a log point.
func (s *Store) AddLogPoint(path string, line int, logMessage string) Breakpoint {
	return s.SetBreakpoint(Breakpoint{Type: BreakpointTypeLogPoint, Path: path, Line: line, LogMessage: logMessage})
}

// SetBreakpoint places a source breakpoint described by bp, replacing the
// one on the same line if any. The ID is assigned by the store.
func (s *Store) SetBreakpoint(bp Breakpoint) Breakpoint {
	s.mu.Lock()
	if old := s.atLocked(bp.Path, bp.Line); old != nil {
		s.removeLocked(old)
	}
	n := bp
	n.ID = s.allocateID()
	n.Enabled = true
	n.Acks = nil
	if n.Type == BreakpointTypeFunction {
		n.Type = BreakpointTypeLine
	}
	s.breakpoints[n.ID] = &n
	s.byPath[n.Path] = append(s.byPath[n.Path], &n)
	out := n.clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSource, Path: bp.Path})
	return out
}

// AddFunctionBreakpoint adds a function breakpoint.
func (s *Store) AddFunctionBreakpoint(functionName, condition string) Breakpoint {
	s.mu.Lock()
	bp := &Breakpoint{
		ID:           s.allocateID(),
		Type:         BreakpointTypeFunction,
		FunctionName: functionName,
		Condition:    condition,
		Enabled:      true,
	}
	s.breakpoints[bp.ID] = bp
	s.functionBreakpoints = append(s.functionBreakpoints, bp)
	out := bp.clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeFunctions})
	return out
}

// RemoveBreakpoint removes a breakpoint by ID.
func (s *Store) RemoveBreakpoint(id int) error {
	s.mu.Lock()
	bp, ok := s.breakpoints[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("breakpoint %d not found", id)
	}
	s.removeLocked(bp)
	s.mu.Unlock()

	s.notify(changeFor(bp))
	return nil
}

func changeFor(bp *Breakpoint) Change {
	if bp.Type == BreakpointTypeFunction {
		return Change{Kind: ChangeFunctions}
	}
	return Change{Kind: ChangeSource, Path: bp.Path}
}

func (s *Store) removeLocked(bp *Breakpoint) {
	delete(s.breakpoints, bp.ID)
	if bp.Type == BreakpointTypeFunction {
		s.functionBreakpoints = removeBreakpointFromSlice(s.functionBreakpoints, bp.ID)
		return
	}
	s.byPath[bp.Path] = removeBreakpointFromSlice(s.byPath[bp.Path], bp.ID)
	if len(s.byPath[bp.Path]) == 0 {
		delete(s.byPath, bp.Path)
	}
}

// removeBreakpointFromSlice removes a breakpoint from a slice by ID.
func removeBreakpointFromSlice(slice []*Breakpoint, id int) []*Breakpoint {
	for i, bp := range slice {
		if bp.ID == id {
			return append(slice[:i:i], slice[i+1:]...)
		}
	}
	return slice
}

func (s *Store) atLocked(path string, line int) *Breakpoint {
	for _, bp := range s.byPath[path] {
		if bp.Line == line {
			return bp
		}
	}
	return nil
}

// ToggleBreakpoint removes the breakpoint on the line, or adds a line
// breakpoint if there is none. It reports whether one was added.
func (s *Store) ToggleBreakpoint(path string, line int) (Breakpoint, bool) {
	s.mu.Lock()
	if bp := s.atLocked(path, line); bp != nil {
		s.removeLocked(bp)
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeSource, Path: path})
		return bp.clone(), false
	}
	s.mu.Unlock()
	return s.AddLineBreakpoint(path, line), true
}

// SetEnabled enables or disables a breakpoint. Disabled breakpoints stay in
// the store but are not sent to adapters.
func (s *Store) SetEnabled(id int, enabled bool) error {
	return s.update(id, func(bp *Breakpoint) { bp.Enabled = enabled })
}

// SetCondition sets the condition for a breakpoint.
func (s *Store) SetCondition(id int, condition string) error {
	return s.update(id, func(bp *Breakpoint) {
		bp.Condition = condition
		if condition != "" && bp.Type == BreakpointTypeLine {
			bp.Type = BreakpointTypeConditional
		}
	})
}

// SetHitCondition sets the hit condition for a breakpoint.
func (s *Store) SetHitCondition(id int, hitCondition string) error {
	return s.update(id, func(bp *Breakpoint) { bp.HitCondition = hitCondition })
}

// SetLogMessage sets the log message for a breakpoint.
func (s *Store) SetLogMessage(id int, logMessage string) error {
	return s.update(id, func(bp *Breakpoint) {
		bp.LogMessage = logMessage
		if logMessage != "" && bp.Type != BreakpointTypeFunction {
			bp.Type = BreakpointTypeLogPoint
		}
	})
}

func (s *Store) update(id int, fn func(*Breakpoint)) error {
	s.mu.Lock()
	bp, ok := s.breakpoints[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("breakpoint %d not found", id)
	}
	fn(bp)
	change := changeFor(bp)
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// ClearForPath removes all breakpoints for a file path.
func (s *Store) ClearForPath(path string) {
	s.mu.Lock()
	for _, bp := range s.byPath[path] {
		delete(s.breakpoints, bp.ID)
	}
	delete(s.byPath, path)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSource, Path: path})
}

// ClearAll removes all breakpoints.
func (s *Store) ClearAll() {
	s.mu.Lock()
	changes := make([]Change, 0, len(s.byPath)+1)
	for path := range s.byPath {
		changes = append(changes, Change{Kind: ChangeSource, Path: path})
	}
	if len(s.functionBreakpoints) > 0 {
		changes = append(changes, Change{Kind: ChangeFunctions})
	}
	s.breakpoints = make(map[int]*Breakpoint)
	s.byPath = make(map[string][]*Breakpoint)
	s.functionBreakpoints = nil
	s.mu.Unlock()

	s.notify(changes...)
}

// Breakpoint returns a breakpoint by ID.
func (s *Store) Breakpoint(id int) (Breakpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.breakpoints[id]
	if !ok {
		return Breakpoint{}, false
	}
	return bp.clone(), true
}

// BreakpointAt returns the breakpoint at the given location, if any.
func (s *Store) BreakpointAt(path string, line int) (Breakpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bp := s.atLocked(path, line); bp != nil {
		return bp.clone(), true
	}
	return Breakpoint{}, false
}

// BreakpointsForPath returns the breakpoints of a file in send order.
func (s *Store) BreakpointsForPath(path string) []Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clones(s.byPath[path])
}

// Breakpoints returns all breakpoints ordered by ID.
func (s *Store) Breakpoints() []Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clones(s.sortedLocked())
}

// FunctionBreakpoints returns all function breakpoints.
func (s *Store) FunctionBreakpoints() []Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clones(s.functionBreakpoints)
}

// Paths returns all file paths that have breakpoints, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.byPath))
	for path := range s.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// sourcePayload returns the enabled breakpoints of path as they are sent
// in setBreakpoints, with the store ids in the same order.
func (s *Store) sourcePayload(path string) ([]int, []godap.SourceBreakpoint) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.byPath[path]))
	bps := make([]godap.SourceBreakpoint, 0, len(s.byPath[path]))
	for _, bp := range s.byPath[path] {
		if !bp.Enabled {
			continue
		}
		ids = append(ids, bp.ID)
		bps = append(bps, godap.SourceBreakpoint{
			Line:         bp.Line,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
		})
	}
	return ids, bps
}

// functionPayload is sourcePayload for function breakpoints.
func (s *Store) functionPayload() ([]int, []godap.FunctionBreakpoint) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.functionBreakpoints))
	bps := make([]godap.FunctionBreakpoint, 0, len(s.functionBreakpoints))
	for _, bp := range s.functionBreakpoints {
		if !bp.Enabled {
			continue
		}
		ids = append(ids, bp.ID)
		bps = append(bps, godap.FunctionBreakpoint{
			Name:         bp.FunctionName,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
		})
	}
	return ids, bps
}

// acknowledge records a setBreakpoints or setFunctionBreakpoints response
// for session. Results are matched to ids by position. A source breakpoint
// the adapter resolved to another line or file is moved there, replacing
// any breakpoint already on that line. localPath maps adapter paths to
// local ones.
func (s *Store) acknowledge(session string, ids []int, results []godap.Breakpoint, localPath func(string) string) {
	changes := func() []Change {
		s.mu.Lock()
		defer s.mu.Unlock()
		var changes []Change
		for i, id := range ids {
			if i >= len(results) {
				break
			}
			bp, ok := s.breakpoints[id]
			if !ok {
				continue
			}
			changes = append(changes, s.applyLocked(session, bp, results[i], localPath)...)
		}
		return changes
	}()

	s.notify(dedupe(changes)...)
}

// applyLocked stores one adapter answer for bp.
func (s *Store) applyLocked(session string, bp *Breakpoint, result godap.Breakpoint, localPath func(string) string) []Change {
	if bp.Acks == nil {
		bp.Acks = make(map[string]Ack)
	}
	ack := bp.Acks[session]
	if result.Id != 0 {
		ack.ID = result.Id
	}
	ack.Verified = result.Verified
	ack.Message = result.Message
	bp.Acks[session] = ack

	if bp.Type == BreakpointTypeFunction {
		return []Change{{Kind: ChangeStatus}}
	}

	changes := []Change{{Kind: ChangeStatus, Path: bp.Path}}
	path, line := bp.Path, bp.Line
	if result.Source != nil && result.Source.Path != "" && localPath != nil {
		path = localPath(result.Source.Path)
	}
	if result.Line > 0 {
		line = result.Line
	}
	if path == bp.Path && line == bp.Line {
		return changes
	}

	if other := s.atLocked(path, line); other != nil && other != bp {
		s.removeLocked(other)
		changes = append(changes, Change{Kind: ChangeSource, Path: path})
	}
	if path != bp.Path {
		old := bp.Path
		s.byPath[old] = removeBreakpointFromSlice(s.byPath[old], bp.ID)
		if len(s.byPath[old]) == 0 {
			delete(s.byPath, old)
		}
		bp.Path = path
		s.byPath[path] = append(s.byPath[path], bp)
		changes = append(changes, Change{Kind: ChangeStatus, Path: old})
	}
	bp.Line = line
	return append(changes, Change{Kind: ChangeStatus, Path: path})
}

// updateFromEvent applies a breakpoint event from session. Only breakpoints
// the session already acknowledged with the same adapter id are updated;
// it reports whether one was found.
func (s *Store) updateFromEvent(session string, result godap.Breakpoint, localPath func(string) string) bool {
	if result.Id == 0 {
		return false
	}
	changes, found := func() ([]Change, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, bp := range s.breakpoints {
			if ack, ok := bp.Acks[session]; ok && ack.ID == result.Id {
				return s.applyLocked(session, bp, result, localPath), true
			}
		}
		return nil, false
	}()
	if !found {
		return false
	}

	s.notify(dedupe(changes)...)
	return true
}

// recordHits increments the hit count of the breakpoints session reported
// by adapter id.
func (s *Store) recordHits(session string, adapterIDs []int) {
	if len(adapterIDs) == 0 {
		return
	}
	hit := make(map[int]bool, len(adapterIDs))
	for _, id := range adapterIDs {
		hit[id] = true
	}
	s.mu.Lock()
	var changes []Change
	for _, bp := range s.breakpoints {
		if ack, ok := bp.Acks[session]; ok && hit[ack.ID] {
			bp.HitCount++
			changes = append(changes, Change{Kind: ChangeStatus, Path: bp.Path})
		}
	}
	s.mu.Unlock()

	s.notify(dedupe(changes)...)
}

// ResetHitCounts resets all breakpoint hit counts.
func (s *Store) ResetHitCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bp := range s.breakpoints {
		bp.HitCount = 0
	}
}

// forgetSession drops everything session acknowledged.
func (s *Store) forgetSession(session string) {
	s.mu.Lock()
	var changes []Change
	for _, bp := range s.breakpoints {
		if _, ok := bp.Acks[session]; ok {
			delete(bp.Acks, session)
			changes = append(changes, Change{Kind: ChangeStatus, Path: bp.Path})
		}
	}
	s.mu.Unlock()

	s.notify(dedupe(changes)...)
}
