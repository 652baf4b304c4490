package debug

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug/dap"
)

const waitFor = 2 * time.Second

// errNoReply makes the fake adapter swallow a request.
var errNoReply = errors.New("no reply")

type fakeHandler func(a *fakeAdapter, args gjson.Result) (any, error)

// fakeAdapter is the adapter end of a net.Pipe. It answers requests with
// canned data and records everything the client sent.
type fakeAdapter struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
	seq int

	mu        sync.Mutex
	caps      map[string]any
	handlers  map[string]fakeHandler
	after     map[string]func(a *fakeAdapter)
	requests  []gjson.Result
	responses []gjson.Result
	nextBP    int
}

func newFakeAdapter(conn net.Conn) *fakeAdapter {
	a := &fakeAdapter{
		conn:     conn,
		r:        bufio.NewReader(conn),
		caps:     map[string]any{"supportsConfigurationDoneRequest": true},
		handlers: make(map[string]fakeHandler),
		after:    make(map[string]func(a *fakeAdapter)),
	}
	a.handle("initialize", func(a *fakeAdapter, _ gjson.Result) (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		caps := make(map[string]any, len(a.caps))
		for k, v := range a.caps {
			caps[k] = v
		}
		return caps, nil
	})
	a.afterReply("initialize", func(a *fakeAdapter) { a.event("initialized", nil) })
	a.handle("setBreakpoints", func(a *fakeAdapter, args gjson.Result) (any, error) {
		out := []map[string]any{}
		for _, bp := range args.Get("breakpoints").Array() {
			out = append(out, map[string]any{"id": a.allocateBP(), "verified": true, "line": bp.Get("line").Int()})
		}
		return map[string]any{"breakpoints": out}, nil
	})
	a.handle("setFunctionBreakpoints", func(a *fakeAdapter, args gjson.Result) (any, error) {
		out := []map[string]any{}
		for range args.Get("breakpoints").Array() {
			out = append(out, map[string]any{"id": a.allocateBP(), "verified": true})
		}
		return map[string]any{"breakpoints": out}, nil
	})
	a.handle("threads", func(*fakeAdapter, gjson.Result) (any, error) {
		return map[string]any{"threads": []map[string]any{{"id": 1, "name": "main"}}}, nil
	})
	a.handle("stackTrace", func(*fakeAdapter, gjson.Result) (any, error) {
		return map[string]any{
			"stackFrames": []map[string]any{
				{"id": 1001, "name": "main.work", "source": map[string]any{"path": "/src/work.go"}, "line": 12, "column": 1},
				{"id": 1002, "name": "main.main", "source": map[string]any{"path": "/src/main.go"}, "line": 30, "column": 1},
			},
			"totalFrames": 2,
		}, nil
	})
	a.handle("scopes", func(*fakeAdapter, gjson.Result) (any, error) {
		return map[string]any{"scopes": []map[string]any{
			{"name": "Locals", "variablesReference": 100, "expensive": false},
			{"name": "Globals", "variablesReference": 200, "expensive": true},
		}}, nil
	})
	a.handle("variables", func(_ *fakeAdapter, args gjson.Result) (any, error) {
		vars := []map[string]any{}
		switch args.Get("variablesReference").Int() {
		case 100:
			vars = []map[string]any{
				{"name": "x", "value": "1", "type": "int", "variablesReference": 0},
				{"name": "cfg", "value": "Config{...}", "variablesReference": 101},
			}
		case 101:
			vars = []map[string]any{{"name": "Name", "value": `"demo"`, "variablesReference": 0}}
		case 200:
			vars = []map[string]any{{"name": "g", "value": "3", "variablesReference": 0}}
		}
		return map[string]any{"variables": vars}, nil
	})
	a.handle("evaluate", func(_ *fakeAdapter, args gjson.Result) (any, error) {
		return map[string]any{"result": args.Get("expression").String() + " = 42", "variablesReference": 0}, nil
	})
	a.afterReply("disconnect", func(a *fakeAdapter) { _ = a.conn.Close() })
	return a
}

func (a *fakeAdapter) allocateBP() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextBP++
	return a.nextBP
}

func (a *fakeAdapter) setCaps(caps map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range caps {
		a.caps[k] = v
	}
}

func (a *fakeAdapter) handle(command string, h fakeHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[command] = h
}

func (a *fakeAdapter) afterReply(command string, fn func(a *fakeAdapter)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.after[command] = fn
}

func (a *fakeAdapter) serve() {
	for {
		content, err := godap.ReadBaseMessage(a.r)
		if err != nil {
			return
		}
		msg := gjson.ParseBytes(content)
		switch msg.Get("type").String() {
		case "request":
			a.dispatch(msg)
		case "response":
			a.mu.Lock()
			a.responses = append(a.responses, msg)
			a.mu.Unlock()
		}
	}
}

func (a *fakeAdapter) dispatch(req gjson.Result) {
	command := req.Get("command").String()
	a.mu.Lock()
	a.requests = append(a.requests, req)
	h := a.handlers[command]
	after := a.after[command]
	a.mu.Unlock()

	var body any
	var err error
	if h != nil {
		body, err = h(a, req.Get("arguments"))
	}
	if errors.Is(err, errNoReply) {
		return
	}
	resp := map[string]any{
		"type":        "response",
		"request_seq": req.Get("seq").Int(),
		"command":     command,
		"success":     err == nil,
	}
	if err != nil {
		resp["message"] = err.Error()
	} else if body != nil {
		resp["body"] = body
	}
	a.write(resp)
	if after != nil {
		after(a)
	}
}

func (a *fakeAdapter) write(msg map[string]any) {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	a.seq++
	msg["seq"] = a.seq
	content, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	_ = godap.WriteBaseMessage(a.conn, content)
}

func (a *fakeAdapter) event(name string, body any) {
	msg := map[string]any{"type": "event", "event": name}
	if body != nil {
		msg["body"] = body
	}
	a.write(msg)
}

func (a *fakeAdapter) reverse(command string, args any) {
	a.write(map[string]any{"type": "request", "command": command, "arguments": args})
}

func (a *fakeAdapter) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.requests))
	for i, r := range a.requests {
		out[i] = r.Get("command").String()
	}
	return out
}

func (a *fakeAdapter) sent(command string) []gjson.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []gjson.Result
	for _, r := range a.requests {
		if r.Get("command").String() == command {
			out = append(out, r)
		}
	}
	return out
}

func (a *fakeAdapter) replies() []gjson.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]gjson.Result(nil), a.responses...)
}

// pipeLauncher hands every session a fresh fakeAdapter.
type pipeLauncher struct {
	setup    func(a *fakeAdapter)
	adapters chan *fakeAdapter
}

func (l *pipeLauncher) Launch(_ context.Context, _ config.Config) (*Endpoint, error) {
	client, server := net.Pipe()
	a := newFakeAdapter(server)
	if l.setup != nil {
		l.setup(a)
	}
	go a.serve()
	l.adapters <- a
	return &Endpoint{Transport: dap.NewSocketTransport(client)}, nil
}

func (l *pipeLauncher) Release(*Endpoint) {}

// hookRecorder collects hook calls made on the loop.
type hookRecorder struct {
	mu        sync.Mutex
	stopped   int
	continued int
	exited    []int
	success   []bool
	ended     []string
	messages  []string
	outputs   []string
	changed   []string
	progress  []Progress
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnStopped: func(*Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.stopped++
		},
		OnContinued: func(*Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.continued++
		},
		OnExited: func(_ *Session, code int, success bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.exited = append(r.exited, code)
			r.success = append(r.success, success)
		},
		OnSessionEnded: func(s *Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ended = append(r.ended, s.ID)
		},
		OnMessage: func(_ *Session, severity Severity, msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, fmt.Sprintf("%s: %s", severity, msg))
		},
		OnOutput: func(_ *Session, category, output string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.outputs = append(r.outputs, category+":"+output)
		},
		OnBreakpointsChanged: func(path string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changed = append(r.changed, path)
		},
		OnProgress: func(_ *Session, p Progress) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, p)
		},
	}
}

func (r *hookRecorder) stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *hookRecorder) snapshot() hookRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hookRecorder{
		stopped:   r.stopped,
		continued: r.continued,
		exited:    append([]int(nil), r.exited...),
		success:   append([]bool(nil), r.success...),
		ended:     append([]string(nil), r.ended...),
		messages:  append([]string(nil), r.messages...),
		outputs:   append([]string(nil), r.outputs...),
		changed:   append([]string(nil), r.changed...),
		progress:  append([]Progress(nil), r.progress...),
	}
}

type harness struct {
	t        *testing.T
	loop     *dap.Loop
	store    *Store
	mgr      *Manager
	launcher *pipeLauncher
	rec      *hookRecorder
}

func newHarness(t *testing.T, setup func(a *fakeAdapter), opts ...ManagerOption) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		loop:     dap.NewLoop(),
		store:    NewStore(),
		launcher: &pipeLauncher{setup: setup, adapters: make(chan *fakeAdapter, 4)},
		rec:      &hookRecorder{},
	}
	opts = append([]ManagerOption{WithLauncher(h.launcher), WithHooks(h.rec.hooks())}, opts...)
	h.loop.Call(func() {
		h.mgr = NewManager(h.loop, h.store, opts...)
	})
	t.Cleanup(func() {
		done := make(chan struct{})
		h.loop.Do(func() { h.mgr.KillAll(func() { close(done) }) })
		select {
		case <-done:
		case <-time.After(waitFor):
		}
		h.loop.Call(h.mgr.Close)
		h.loop.Close()
	})
	return h
}

func testConfig() config.Config {
	return config.Config{
		config.KeyCommand: "fake-adapter",
		config.KeyPort:    4711,
		config.KeyType:    "fake",
		config.KeyProgram: "/src/main",
		":stopOnEntry":    nil,
	}
}

// start launches cfg and waits for the launch response.
func (h *harness) start(cfg config.Config) (*Session, *fakeAdapter) {
	h.t.Helper()
	type result struct {
		s   *Session
		err error
	}
	ch := make(chan result, 1)
	h.loop.Do(func() {
		h.mgr.Start(cfg, func(s *Session, err error) { ch <- result{s, err} })
	})
	a := h.adapter()
	select {
	case r := <-ch:
		require.NoError(h.t, r.err)
		return r.s, a
	case <-time.After(waitFor):
		h.t.Fatal("session never started")
		return nil, nil
	}
}

func (h *harness) adapter() *fakeAdapter {
	h.t.Helper()
	select {
	case a := <-h.launcher.adapters:
		return a
	case <-time.After(waitFor):
		h.t.Fatal("no adapter launched")
		return nil
	}
}

// do runs fn on the loop and waits for the callback it is handed.
func (h *harness) do(fn func(done func(error))) error {
	h.t.Helper()
	ch := make(chan error, 1)
	h.loop.Do(func() {
		fn(func(err error) {
			select {
			case ch <- err:
			default:
			}
		})
	})
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		h.t.Fatal("callback never ran")
		return nil
	}
}

// eventually polls cond on the loop.
func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		ok := false
		h.loop.Call(func() { ok = cond() })
		return ok
	}, waitFor, 5*time.Millisecond, msg)
}

// read runs fn on the loop.
func (h *harness) read(fn func()) {
	h.loop.Call(fn)
}

// stop makes the adapter report a breakpoint stop on thread 1 and waits
// for the stop to be announced.
func (h *harness) stop(a *fakeAdapter, body map[string]any) {
	h.t.Helper()
	before := h.rec.stops()
	if body == nil {
		body = map[string]any{"reason": "breakpoint", "threadId": 1, "allThreadsStopped": true}
	}
	a.event("stopped", body)
	require.Eventually(h.t, func() bool { return h.rec.stops() > before }, waitFor, 5*time.Millisecond, "stop never announced")
}

func hasCommand(a *fakeAdapter, command string) func() bool {
	return func() bool { return len(a.sent(command)) > 0 }
}
