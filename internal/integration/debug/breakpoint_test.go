package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	godap "github.com/google/go-dap"
)

func TestStore_AddLineBreakpoint(t *testing.T) {
	store := NewStore()

	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	if bp.Path != "/path/to/file.go" {
		t.Errorf("expected path /path/to/file.go, got %s", bp.Path)
	}
	if bp.Line != 42 {
		t.Errorf("expected line 42, got %d", bp.Line)
	}
	if bp.Type != BreakpointTypeLine {
		t.Errorf("expected type Line, got %v", bp.Type)
	}
	if !bp.Enabled {
		t.Error("expected breakpoint to be enabled")
	}
}

func TestStore_AddConditionalBreakpoint(t *testing.T) {
	store := NewStore()

	bp := store.AddConditionalBreakpoint("/path/to/file.go", 10, "x > 5")

	if bp.Condition != "x > 5" {
		t.Errorf("expected condition 'x > 5', got %s", bp.Condition)
	}
	if bp.Type != BreakpointTypeConditional {
		t.Errorf("expected type Conditional, got %v", bp.Type)
	}
}

func TestStore_AddLogPoint(t *testing.T) {
	store := NewStore()

	bp := store.AddLogPoint("/path/to/file.go", 20, "Value: {x}")

	if bp.LogMessage != "Value: {x}" {
		t.Errorf("expected log message 'Value: {x}', got %s", bp.LogMessage)
	}
	if bp.Type != BreakpointTypeLogPoint {
		t.Errorf("expected type LogPoint, got %v", bp.Type)
	}
}

func TestStore_OneBreakpointPerLine(t *testing.T) {
	store := NewStore()

	first := store.AddLineBreakpoint("/path/to/file.go", 42)
	second := store.AddLogPoint("/path/to/file.go", 42, "hit")

	bps := store.BreakpointsForPath("/path/to/file.go")
	if len(bps) != 1 {
		t.Fatalf("expected 1 breakpoint on the line, got %d", len(bps))
	}
	if bps[0].ID != second.ID {
		t.Errorf("expected the log point to replace the breakpoint")
	}
	if _, ok := store.Breakpoint(first.ID); ok {
		t.Error("expected the replaced breakpoint to be gone")
	}
}

func TestStore_AddFunctionBreakpoint(t *testing.T) {
	store := NewStore()

	bp := store.AddFunctionBreakpoint("main.handler", "")

	if bp.FunctionName != "main.handler" {
		t.Errorf("expected function name 'main.handler', got %s", bp.FunctionName)
	}
	if bp.Type != BreakpointTypeFunction {
		t.Errorf("expected type Function, got %v", bp.Type)
	}
}

func TestStore_RemoveBreakpoint(t *testing.T) {
	store := NewStore()

	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	if err := store.RemoveBreakpoint(bp.ID); err != nil {
		t.Fatalf("RemoveBreakpoint failed: %v", err)
	}
	if _, ok := store.Breakpoint(bp.ID); ok {
		t.Error("expected breakpoint to be removed")
	}
	if len(store.Paths()) != 0 {
		t.Error("expected no paths left")
	}
}

func TestStore_RemoveNonexistent(t *testing.T) {
	store := NewStore()

	if err := store.RemoveBreakpoint(999); err == nil {
		t.Error("expected error removing nonexistent breakpoint")
	}
}

func TestStore_ToggleBreakpoint(t *testing.T) {
	store := NewStore()

	bp, created := store.ToggleBreakpoint("/path/to/file.go", 42)
	if !created {
		t.Error("expected breakpoint to be created")
	}
	if bp.ID == 0 {
		t.Fatal("expected breakpoint to be returned")
	}

	bp2, created := store.ToggleBreakpoint("/path/to/file.go", 42)
	if created {
		t.Error("expected breakpoint to be removed, not created")
	}
	if bp2.ID != bp.ID {
		t.Error("expected removed breakpoint to be returned")
	}
}

func TestStore_EnableDisable(t *testing.T) {
	store := NewStore()

	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	if err := store.SetEnabled(bp.ID, false); err != nil {
		t.Fatalf("SetEnabled(false) failed: %v", err)
	}
	got, _ := store.Breakpoint(bp.ID)
	if got.Enabled {
		t.Error("expected breakpoint to be disabled")
	}
	ids, payload := store.sourcePayload("/path/to/file.go")
	if len(ids) != 0 || len(payload) != 0 {
		t.Error("disabled breakpoints must not be sent")
	}

	if err := store.SetEnabled(bp.ID, true); err != nil {
		t.Fatalf("SetEnabled(true) failed: %v", err)
	}
	got, _ = store.Breakpoint(bp.ID)
	if !got.Enabled {
		t.Error("expected breakpoint to be enabled")
	}
}

func TestStore_SetCondition(t *testing.T) {
	store := NewStore()

	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	if err := store.SetCondition(bp.ID, "i > 10"); err != nil {
		t.Fatalf("SetCondition failed: %v", err)
	}
	got, _ := store.Breakpoint(bp.ID)
	if got.Condition != "i > 10" {
		t.Errorf("expected condition 'i > 10', got %s", got.Condition)
	}
	if got.Type != BreakpointTypeConditional {
		t.Errorf("expected type Conditional after setting condition, got %v", got.Type)
	}
}

func TestStore_SetHitCondition(t *testing.T) {
	store := NewStore()

	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	if err := store.SetHitCondition(bp.ID, ">= 5"); err != nil {
		t.Fatalf("SetHitCondition failed: %v", err)
	}
	got, _ := store.Breakpoint(bp.ID)
	if got.HitCondition != ">= 5" {
		t.Errorf("expected hit condition '>= 5', got %s", got.HitCondition)
	}
}

func TestStore_SetLogMessage(t *testing.T) {
	store := NewStore()

	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	if err := store.SetLogMessage(bp.ID, "Value: {x}"); err != nil {
		t.Fatalf("SetLogMessage failed: %v", err)
	}
	got, _ := store.Breakpoint(bp.ID)
	if got.LogMessage != "Value: {x}" {
		t.Error("log message not set")
	}
	if got.Type != BreakpointTypeLogPoint {
		t.Error("type should be LogPoint after setting log message")
	}
}

func TestStore_BreakpointsForPath(t *testing.T) {
	store := NewStore()

	store.AddLineBreakpoint("/path/to/file1.go", 10)
	store.AddLineBreakpoint("/path/to/file1.go", 20)
	store.AddLineBreakpoint("/path/to/file2.go", 30)

	if bps := store.BreakpointsForPath("/path/to/file1.go"); len(bps) != 2 {
		t.Errorf("expected 2 breakpoints for file1.go, got %d", len(bps))
	}
	if bps := store.BreakpointsForPath("/path/to/file2.go"); len(bps) != 1 {
		t.Errorf("expected 1 breakpoint for file2.go, got %d", len(bps))
	}
	if bps := store.BreakpointsForPath("/path/to/nonexistent.go"); len(bps) != 0 {
		t.Errorf("expected 0 breakpoints for nonexistent file, got %d", len(bps))
	}
}

func TestStore_ClearAll(t *testing.T) {
	store := NewStore()

	store.AddLineBreakpoint("/path/to/file1.go", 10)
	store.AddLineBreakpoint("/path/to/file2.go", 20)
	store.AddFunctionBreakpoint("main.handler", "")

	var changes []Change
	store.Subscribe(func(c Change) { changes = append(changes, c) })
	store.ClearAll()

	if bps := store.Breakpoints(); len(bps) != 0 {
		t.Errorf("expected 0 breakpoints after clear, got %d", len(bps))
	}
	if len(changes) != 3 {
		t.Errorf("expected a change per path plus functions, got %v", changes)
	}
}

func TestStore_ClearForPath(t *testing.T) {
	store := NewStore()

	store.AddLineBreakpoint("/path/to/file1.go", 10)
	store.AddLineBreakpoint("/path/to/file1.go", 20)
	store.AddLineBreakpoint("/path/to/file2.go", 30)

	store.ClearForPath("/path/to/file1.go")

	if bps := store.BreakpointsForPath("/path/to/file1.go"); len(bps) != 0 {
		t.Errorf("expected 0 breakpoints for file1.go after clear, got %d", len(bps))
	}
	if bps := store.BreakpointsForPath("/path/to/file2.go"); len(bps) != 1 {
		t.Errorf("expected 1 breakpoint for file2.go, got %d", len(bps))
	}
}

func TestStore_Persistence(t *testing.T) {
	persistPath := filepath.Join(t.TempDir(), "breakpoints.json")

	store := NewStore()
	store.SetPersistPath(persistPath)
	store.AddLineBreakpoint("/path/to/file1.go", 10)
	store.AddConditionalBreakpoint("/path/to/file2.go", 20, "x > 5")
	store.AddFunctionBreakpoint("main.handler", "")
	store.SetExceptionFilter("panic", true)
	store.AddWatch("len(items)")

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(persistPath); os.IsNotExist(err) {
		t.Fatal("persistence file not created")
	}

	store2 := NewStore()
	store2.SetPersistPath(persistPath)
	if err := store2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if bps := store2.Breakpoints(); len(bps) != 3 {
		t.Errorf("expected 3 breakpoints after load, got %d", len(bps))
	}
	if w := store2.Watches(); len(w) != 1 || w[0] != "len(items)" {
		t.Errorf("expected watch to survive, got %v", w)
	}
	filters := store2.ReconcileExceptionFilters([]godap.ExceptionBreakpointsFilter{{Filter: "panic", Label: "Panics"}})
	if !filters[0].Enabled {
		t.Error("expected exception choice to survive")
	}
	next := store2.AddLineBreakpoint("/path/to/file3.go", 1)
	if next.ID <= 3 {
		t.Errorf("expected fresh id after load, got %d", next.ID)
	}
}

func TestStore_LoadNonexistent(t *testing.T) {
	store := NewStore()
	store.SetPersistPath("/nonexistent/path/breakpoints.json")

	if err := store.Load(); err != nil {
		t.Errorf("Load should succeed silently for nonexistent file: %v", err)
	}
}

func TestStore_Paths(t *testing.T) {
	store := NewStore()

	store.AddLineBreakpoint("/path/to/file2.go", 10)
	store.AddLineBreakpoint("/path/to/file1.go", 20)
	store.AddLineBreakpoint("/path/to/file2.go", 30)

	paths := store.Paths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/path/to/file1.go" {
		t.Errorf("expected sorted paths, got %v", paths)
	}
}

func TestBreakpointTypes(t *testing.T) {
	tests := []struct {
		bpType   BreakpointType
		expected string
	}{
		{BreakpointTypeLine, "line"},
		{BreakpointTypeConditional, "conditional"},
		{BreakpointTypeLogPoint, "logpoint"},
		{BreakpointTypeFunction, "function"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.bpType.String() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, tt.bpType.String())
			}
		})
	}
}

func TestStore_BreakpointAt(t *testing.T) {
	store := NewStore()
	bp := store.AddLineBreakpoint("/path/to/file.go", 42)

	found, ok := store.BreakpointAt("/path/to/file.go", 42)
	if !ok {
		t.Error("expected BreakpointAt to find breakpoint")
	}
	if found.ID != bp.ID {
		t.Error("returned breakpoint ID mismatch")
	}

	if _, ok := store.BreakpointAt("/path/to/file.go", 100); ok {
		t.Error("expected BreakpointAt to return false for nonexistent")
	}
}

func TestStore_AcknowledgeByPosition(t *testing.T) {
	store := NewStore()
	a := store.AddLineBreakpoint("/src/main.go", 10)
	b := store.AddLineBreakpoint("/src/main.go", 20)

	ids, _ := store.sourcePayload("/src/main.go")
	store.acknowledge("s1", ids, []godap.Breakpoint{
		{Id: 7, Verified: true},
		{Id: 8, Verified: false, Message: "no code"},
	}, nil)

	gotA, _ := store.Breakpoint(a.ID)
	gotB, _ := store.Breakpoint(b.ID)
	if !gotA.Verified() || gotA.Acks["s1"].ID != 7 {
		t.Errorf("first result should belong to the first breakpoint, got %+v", gotA.Acks)
	}
	if gotB.Verified() || gotB.Message() != "no code" {
		t.Errorf("second result should belong to the second breakpoint, got %+v", gotB.Acks)
	}
}

func TestStore_AcknowledgeMovesBreakpoint(t *testing.T) {
	store := NewStore()
	a := store.AddLineBreakpoint("/src/main.go", 10)
	b := store.AddLineBreakpoint("/src/main.go", 12)

	var changes []Change
	store.Subscribe(func(c Change) { changes = append(changes, c) })

	ids, _ := store.sourcePayload("/src/main.go")
	store.acknowledge("s1", ids, []godap.Breakpoint{
		{Id: 1, Verified: true, Line: 12},
		{Id: 2, Verified: true, Line: 12},
	}, nil)

	if _, ok := store.Breakpoint(b.ID); ok {
		// The first move collides with b, which is dropped.
		t.Error("expected the breakpoint on the target line to be replaced")
	}
	moved, ok := store.Breakpoint(a.ID)
	if !ok || moved.Line != 12 {
		t.Fatalf("expected breakpoint to move to line 12, got %+v", moved)
	}
	if n := len(store.BreakpointsForPath("/src/main.go")); n != 1 {
		t.Errorf("expected one breakpoint per line, got %d", n)
	}

	resync := false
	for _, c := range changes {
		if c.Kind == ChangeSource && c.Path == "/src/main.go" {
			resync = true
		}
	}
	if !resync {
		t.Error("a collision must re-send the source")
	}
}

func TestStore_AcknowledgeMovesToOtherFile(t *testing.T) {
	store := NewStore()
	bp := store.AddLineBreakpoint("/src/gen.go", 5)

	ids, _ := store.sourcePayload("/src/gen.go")
	store.acknowledge("s1", ids, []godap.Breakpoint{
		{Id: 3, Verified: true, Line: 8, Source: &godap.Source{Path: "/remote/real.go"}},
	}, func(p string) string { return strings.Replace(p, "/remote", "/src", 1) })

	moved, ok := store.Breakpoint(bp.ID)
	if !ok || moved.Path != "/src/real.go" || moved.Line != 8 {
		t.Fatalf("expected breakpoint at /src/real.go:8, got %+v", moved)
	}
	if n := len(store.BreakpointsForPath("/src/gen.go")); n != 0 {
		t.Errorf("expected old file to be empty, got %d", n)
	}
}

func TestStore_UpdateFromEvent(t *testing.T) {
	store := NewStore()
	bp := store.AddLineBreakpoint("/src/main.go", 10)
	ids, _ := store.sourcePayload("/src/main.go")
	store.acknowledge("s1", ids, []godap.Breakpoint{{Id: 5}}, nil)

	if store.updateFromEvent("s1", godap.Breakpoint{Id: 99, Verified: true}, nil) {
		t.Error("unknown adapter ids must be ignored")
	}
	if store.updateFromEvent("s2", godap.Breakpoint{Id: 5, Verified: true}, nil) {
		t.Error("ids are per session")
	}
	if !store.updateFromEvent("s1", godap.Breakpoint{Id: 5, Verified: true, Line: 11}, nil) {
		t.Fatal("expected the event to apply")
	}
	got, _ := store.Breakpoint(bp.ID)
	if !got.Verified() || got.Line != 11 {
		t.Errorf("expected verified breakpoint on line 11, got %+v", got)
	}
}

func TestStore_HitCounts(t *testing.T) {
	store := NewStore()
	bp1 := store.AddLineBreakpoint("/path/to/file.go", 10)
	bp2 := store.AddLineBreakpoint("/path/to/file.go", 20)
	ids, _ := store.sourcePayload("/path/to/file.go")
	store.acknowledge("s1", ids, []godap.Breakpoint{{Id: 1}, {Id: 2}}, nil)

	store.recordHits("s1", []int{1})
	store.recordHits("s1", []int{1, 2})

	got1, _ := store.Breakpoint(bp1.ID)
	got2, _ := store.Breakpoint(bp2.ID)
	if got1.HitCount != 2 || got2.HitCount != 1 {
		t.Errorf("expected hit counts 2 and 1, got %d and %d", got1.HitCount, got2.HitCount)
	}

	store.ResetHitCounts()
	got1, _ = store.Breakpoint(bp1.ID)
	if got1.HitCount != 0 {
		t.Error("bp1 hit count should be 0")
	}
}

func TestStore_ForgetSession(t *testing.T) {
	store := NewStore()
	bp := store.AddLineBreakpoint("/path/to/file.go", 10)
	ids, _ := store.sourcePayload("/path/to/file.go")
	store.acknowledge("s1", ids, []godap.Breakpoint{{Id: 1, Verified: true}}, nil)

	store.forgetSession("s1")

	got, _ := store.Breakpoint(bp.ID)
	if got.Verified() {
		t.Error("expected acks of the ended session to be dropped")
	}
}

func TestStore_ExceptionFilters(t *testing.T) {
	store := NewStore()
	available := []godap.ExceptionBreakpointsFilter{
		{Filter: "raised", Label: "Raised"},
		{Filter: "uncaught", Label: "Uncaught", Default: true},
	}

	filters := store.ReconcileExceptionFilters(available)
	if filters[0].Enabled || !filters[1].Enabled {
		t.Errorf("expected adapter defaults, got %+v", filters)
	}

	if !store.ToggleExceptionFilter("raised") {
		t.Error("expected raised to be enabled by toggle")
	}
	store.SetExceptionFilter("uncaught", false)

	got := enabledFilters(store.ReconcileExceptionFilters(available))
	if len(got) != 1 || got[0] != "raised" {
		t.Errorf("expected user choices to win, got %v", got)
	}
}

func TestStore_Watches(t *testing.T) {
	store := NewStore()
	store.AddWatch("a")
	store.AddWatch("b")

	if err := store.RemoveWatch(0); err != nil {
		t.Fatalf("RemoveWatch failed: %v", err)
	}
	if err := store.RemoveWatch(5); err == nil {
		t.Error("expected error for out of range index")
	}
	if w := store.Watches(); len(w) != 1 || w[0] != "b" {
		t.Errorf("expected [b], got %v", w)
	}
	store.ClearWatches()
	if len(store.Watches()) != 0 {
		t.Error("expected no watches")
	}
}
