package debug

import (
	"encoding/json"
	"fmt"
	"strings"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/integration/debug/dap"
)

// maxWalkDepth bounds Walk on self-referencing values.
const maxWalkDepth = 32

// Node is a scope or variable in a frame's tree. Scopes are the roots;
// the path of a node is the names from its scope down to it.
type Node struct {
	Path  []string
	Name  string
	Value string
	Type  string

	// Ref is the adapter's variables reference; 0 means no children.
	Ref     int
	Named   int
	Indexed int

	EvaluateName    string
	MemoryReference string

	// Expensive is set for scopes the adapter marks costly to fetch.
	Expensive bool

	// Expanded marks a node whose children should be shown. It carries
	// over to the node with the same path after the next stop.
	Expanded bool

	// Fetched is set once the children were requested successfully.
	Fetched bool

	children []string
}

// HasChildren returns true if this variable has child variables.
func (n *Node) HasChildren() bool {
	return n.Ref > 0
}

// TotalChildren returns the total number of children.
func (n *Node) TotalChildren() int {
	return n.Named + n.Indexed
}

// Tree is an arena of nodes keyed by path.
type Tree struct {
	nodes    map[string]*Node
	roots    []string
	expanded map[string]bool
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}

// newTree creates an empty tree that takes its expansion marks from prev.
func newTree(prev *Tree) *Tree {
	t := &Tree{
		nodes:    make(map[string]*Node),
		expanded: make(map[string]bool),
	}
	if prev != nil {
		for k, v := range prev.expanded {
			t.expanded[k] = v
		}
		for k, n := range prev.nodes {
			t.expanded[k] = n.Expanded
		}
	}
	return t
}

func (t *Tree) put(n *Node) *Node {
	key := pathKey(n.Path)
	if expanded, ok := t.expanded[key]; ok {
		n.Expanded = expanded
	}
	t.nodes[key] = n
	return n
}

func (t *Tree) addScope(sc godap.Scope) *Node {
	n := t.put(&Node{
		Path:      []string{sc.Name},
		Name:      sc.Name,
		Ref:       sc.VariablesReference,
		Named:     sc.NamedVariables,
		Indexed:   sc.IndexedVariables,
		Expensive: sc.Expensive,
		Expanded:  !sc.Expensive,
	})
	t.roots = append(t.roots, pathKey(n.Path))
	return n
}

func (t *Tree) setChildren(parent *Node, vars []godap.Variable) {
	parent.children = parent.children[:0]
	seen := make(map[string]int, len(vars))
	for _, v := range vars {
		// Shadowed variables share a name; later ones get a suffix.
		elem := v.Name
		if n := seen[v.Name]; n > 0 {
			elem = fmt.Sprintf("%s#%d", v.Name, n+1)
		}
		seen[v.Name]++
		path := make([]string, len(parent.Path)+1)
		copy(path, parent.Path)
		path[len(parent.Path)] = elem
		n := t.put(&Node{
			Path:            path,
			Name:            v.Name,
			Value:           v.Value,
			Type:            v.Type,
			Ref:             v.VariablesReference,
			Named:           v.NamedVariables,
			Indexed:         v.IndexedVariables,
			EvaluateName:    v.EvaluateName,
			MemoryReference: v.MemoryReference,
		})
		parent.children = append(parent.children, pathKey(n.Path))
	}
	parent.Fetched = true
}

// Node returns the node at path.
func (t *Tree) Node(path ...string) *Node {
	if t == nil {
		return nil
	}
	return t.nodes[pathKey(path)]
}

// Roots returns the scope nodes in adapter order.
func (t *Tree) Roots() []*Node {
	if t == nil {
		return nil
	}
	out := make([]*Node, 0, len(t.roots))
	for _, k := range t.roots {
		out = append(out, t.nodes[k])
	}
	return out
}

// Children returns the fetched children of n in adapter order.
func (t *Tree) Children(n *Node) []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, k := range n.children {
		if c, ok := t.nodes[k]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SetExpanded marks the node at path expanded or collapsed. The mark is
// remembered even when the node does not exist yet.
func (t *Tree) SetExpanded(path []string, expanded bool) {
	key := pathKey(path)
	t.expanded[key] = expanded
	if n, ok := t.nodes[key]; ok {
		n.Expanded = expanded
	}
}

// ExpandFunc decides whether Walk fetches the children of a node.
type ExpandFunc func(path []string, n *Node) bool

// ExpandMarked expands nodes marked Expanded.
func ExpandMarked(_ []string, n *Node) bool {
	return n.Expanded
}

// ExpandAll expands everything down to depth levels below the scopes.
func ExpandAll(depth int) ExpandFunc {
	return func(path []string, n *Node) bool {
		return len(path) <= depth
	}
}

// FetchScopes fetches the scopes of f once.
func (s *Session) FetchScopes(f *Frame, cb func(error)) {
	if f == nil {
		cb(ErrNoFrame)
		return
	}
	if f.scopesFetched {
		cb(nil)
		return
	}
	s.request("scopes", godap.ScopesArguments{FrameId: f.Id}, func(body json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		var resp godap.ScopesResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(fmt.Errorf("decode scopes: %w", err))
			return
		}
		f.Scopes = resp.Scopes
		f.Vars = newTree(s.lastVars)
		for _, sc := range resp.Scopes {
			f.Vars.addScope(sc)
		}
		f.scopesFetched = true
		if s.CurrentFrame() == f {
			s.lastVars = f.Vars
		}
		cb(nil)
	})
}

// FetchVariables fetches the children of n once. Nodes without a
// reference have nothing to fetch.
func (s *Session) FetchVariables(f *Frame, n *Node, cb func(error)) {
	if n == nil || n.Ref == 0 || n.Fetched {
		cb(nil)
		return
	}
	tree := f.Vars
	s.request("variables", godap.VariablesArguments{VariablesReference: n.Ref}, func(body json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		// The frame's variables were dropped or replaced meanwhile.
		if n.Fetched || tree == nil || f.Vars != tree {
			cb(nil)
			return
		}
		var resp godap.VariablesResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(fmt.Errorf("decode variables: %w", err))
			return
		}
		tree.setChildren(n, resp.Variables)
		cb(nil)
	})
}

// Walk fetches the children of every node of f for which expand returns
// true, descending into what was fetched, and calls done once everything
// has answered.
func (s *Session) Walk(f *Frame, expand ExpandFunc, done func()) {
	if f == nil || f.Vars == nil {
		done()
		return
	}
	tree := f.Vars
	pending := 1
	finish := func() {
		pending--
		if pending == 0 {
			done()
		}
	}
	var visit func(n *Node)
	visit = func(n *Node) {
		if n.Ref == 0 || len(n.Path) > maxWalkDepth || !expand(n.Path, n) {
			return
		}
		pending++
		s.FetchVariables(f, n, func(err error) {
			if err == nil && f.Vars == tree {
				for _, c := range tree.Children(n) {
					visit(c)
				}
			}
			finish()
		})
	}
	for _, root := range tree.Roots() {
		visit(root)
	}
	finish()
}

// Expand marks the variable at path in the current frame expanded and
// fetches what that uncovers.
func (s *Session) Expand(path []string, cb func(error)) {
	f := s.CurrentFrame()
	if f == nil || f.Vars == nil {
		cb(ErrNoFrame)
		return
	}
	if f.Vars.Node(path...) == nil {
		cb(fmt.Errorf("%w: %s", ErrNoVariable, strings.Join(path, ".")))
		return
	}
	f.Vars.SetExpanded(path, true)
	s.Walk(f, s.mgr.hooks.Expand, func() { cb(nil) })
}

// Collapse clears the expansion mark of the variable at path.
func (s *Session) Collapse(path []string) {
	if f := s.CurrentFrame(); f != nil && f.Vars != nil {
		f.Vars.SetExpanded(path, false)
	}
}

// SetVariable assigns value to the variable at path in the current frame
// and refetches the frame's variables.
func (s *Session) SetVariable(path []string, value string, cb func(error)) {
	if !s.caps.SupportsSetVariable {
		cb(ErrUnsupported)
		return
	}
	f := s.CurrentFrame()
	if f == nil || f.Vars == nil || len(path) < 2 {
		cb(ErrNoFrame)
		return
	}
	parent := f.Vars.Node(path[:len(path)-1]...)
	node := f.Vars.Node(path...)
	if parent == nil || node == nil {
		cb(fmt.Errorf("%w: %s", ErrNoVariable, strings.Join(path, ".")))
		return
	}
	args := godap.SetVariableArguments{
		VariablesReference: parent.Ref,
		Name:               node.Name,
		Value:              value,
	}
	s.request("setVariable", args, func(_ json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		s.invalidateVariables(cb)
	})
}

// SetExpression assigns value to an assignable expression in the current
// frame and refetches the frame's variables.
func (s *Session) SetExpression(expression, value string, cb func(error)) {
	if !s.caps.SupportsSetExpression {
		cb(ErrUnsupported)
		return
	}
	args := godap.SetExpressionArguments{Expression: expression, Value: value, FrameId: s.frameID}
	s.request("setExpression", args, func(_ json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		s.invalidateVariables(cb)
	})
}

// invalidateVariables drops every fetched scope and variable of the
// current thread, then loads the current frame again.
func (s *Session) invalidateVariables(cb func(error)) {
	t := s.CurrentThread()
	if t == nil {
		cb(nil)
		return
	}
	for _, f := range t.Frames {
		if f.Vars != nil && s.CurrentFrame() == f {
			s.lastVars = f.Vars
		}
		f.scopesFetched = false
		f.Scopes = nil
		f.Vars = nil
	}
	s.loadFrame(cb)
}
