package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// granularityValue is a step granularity flag restricted to the values
// adapters understand.
type granularityValue string

var _ pflag.Value = (*granularityValue)(nil)

var granularities = []string{"statement", "line", "instruction"}

func (g *granularityValue) String() string {
	return string(*g)
}

func (g *granularityValue) Set(s string) error {
	for _, v := range granularities {
		if s == v {
			*g = granularityValue(s)
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(granularities, ", "))
}

func (g *granularityValue) Type() string {
	return "granularity"
}
