package config

import (
	"fmt"
	"sort"
	"strings"
)

// argsKey holds a configuration's adapter arguments in catalog files, so
// that YAML and TOML authors need not quote colon-prefixed keys.
const argsKey = "args"

// Catalog is a named set of launch configurations.
type Catalog struct {
	path    string
	entries map[string]Config
	order   []string
}

func newCatalog(path string, raw map[string]any) (*Catalog, error) {
	c := &Catalog{path: path, entries: make(map[string]Config, len(raw))}
	for name, v := range raw {
		if v == nil {
			v = map[string]any{}
		}
		table, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("catalog %s: configuration %q is %T, not a table", path, name, v)
		}
		cfg := make(Config, len(table))
		for k, item := range table {
			if k == argsKey {
				args, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("catalog %s: %s.%s must be a table", path, name, argsKey)
				}
				for ak, av := range args {
					cfg[Keyword(ak)] = av
				}
				continue
			}
			cfg[k] = item
		}
		c.entries[name] = cfg
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)
	return c, nil
}

// Path returns the file the catalog was loaded from.
func (c *Catalog) Path() string {
	return c.path
}

// Names returns the configuration names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Get returns a copy of the named configuration.
func (c *Catalog) Get(name string) (Config, bool) {
	cfg, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// ForMode returns the names of configurations listing mode in modes.
func (c *Catalog) ForMode(mode string) []string {
	var names []string
	for _, name := range c.order {
		for _, m := range c.entries[name].Modes() {
			if strings.EqualFold(m, mode) {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// Len returns the number of configurations.
func (c *Catalog) Len() int {
	return len(c.order)
}
