package debug

import (
	"encoding/json"
	"fmt"
	"os"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/integration/debug/dap"
)

// sourceKey identifies adapter-provided source content in the manager's
// cache. References are only meaningful within their session.
type sourceKey struct {
	session string
	ref     int
}

// FetchSource returns the text of src. Sources with a reference are asked
// from the adapter and cached; sources with only a path are read from disk.
func (s *Session) FetchSource(src godap.Source, cb func(string, error)) {
	if src.SourceReference <= 0 {
		if src.Path == "" {
			cb("", fmt.Errorf("source %q has neither path nor reference", src.Name))
			return
		}
		data, err := os.ReadFile(src.Path)
		if err != nil {
			cb("", err)
			return
		}
		cb(string(data), nil)
		return
	}

	key := sourceKey{session: s.ID, ref: src.SourceReference}
	if v, ok := s.mgr.sources.Get(key); ok {
		cb(v.(string), nil)
		return
	}
	args := godap.SourceArguments{Source: &src, SourceReference: src.SourceReference}
	s.request("source", args, func(body json.RawMessage, err error) {
		if err != nil {
			cb("", err)
			return
		}
		var resp godap.SourceResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb("", fmt.Errorf("decode source: %w", err))
			return
		}
		if !s.closed {
			s.mgr.sources.Add(key, resp.Content)
		}
		cb(resp.Content, nil)
	})
}

// FetchModules replaces the module list with the adapter's.
func (s *Session) FetchModules(cb func([]godap.Module, error)) {
	if !s.caps.SupportsModulesRequest {
		cb(nil, ErrUnsupported)
		return
	}
	s.request("modules", godap.ModulesArguments{}, func(body json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		var resp godap.ModulesResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(nil, fmt.Errorf("decode modules: %w", err))
			return
		}
		s.modules = resp.Modules
		cb(s.Modules(), nil)
	})
}

// FetchLoadedSources replaces the loaded source list with the adapter's.
func (s *Session) FetchLoadedSources(cb func([]godap.Source, error)) {
	if !s.caps.SupportsLoadedSourcesRequest {
		cb(nil, ErrUnsupported)
		return
	}
	s.request("loadedSources", nil, func(body json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		var resp godap.LoadedSourcesResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(nil, fmt.Errorf("decode loadedSources: %w", err))
			return
		}
		s.sources = resp.Sources
		cb(s.LoadedSources(), nil)
	})
}
