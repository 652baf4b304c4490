// Package debug drives debug adapters through the Debug Adapter Protocol.
//
// A Manager owns every live Session. Each session has one connection to an
// adapter, started either over the adapter's stdio or over a socket, and
// moves through the lifecycle below as the adapter reports progress:
//
//	created ─► starting ─► initialized ─► launched | attached
//	                                            │
//	                                            ▼
//	                                running ◄──► stopped
//	                                            │
//	                                            ▼
//	                                 exited ─► terminated
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Manager                              │
//	│  - registry of sessions, active session by id                │
//	│  - launches adapters, applies store changes to sessions      │
//	└──────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Session                              │
//	│  - handshake, event and reverse request dispatch             │
//	│  - threads, frames, scopes and the variable tree             │
//	│  - execution control, child sessions                         │
//	└──────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│                        dap.Client                            │
//	│  - framing, envelope codec, request correlation              │
//	└──────────────────────────────────────────────────────────────┘
//
// Breakpoints, exception filters and watch expressions live in a Store
// shared by all sessions. Every change to it is sent to each initialized
// session.
//
// # Threading
//
// Sessions and the Manager are not safe for concurrent use. All of their
// methods run on the dap.Loop the Manager was created with; code running
// elsewhere posts work with Loop.Do or Loop.Call. Completion callbacks and
// Hooks are always invoked on the loop. The Store is safe for concurrent
// use.
//
// # Usage
//
//	loop := dap.NewLoop()
//	store := debug.NewStore()
//	mgr := debug.NewManager(loop, store, debug.WithHooks(debug.Hooks{
//	    OnStopped: func(s *debug.Session) { ... },
//	}))
//
//	store.AddLineBreakpoint("/src/main.go", 42)
//	loop.Do(func() {
//	    mgr.Start(cfg, func(s *debug.Session, err error) { ... })
//	})
package debug
