package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/timcharper/dape/internal/integration/debug"
)

// ANSI escapes used when color is on.
const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorGray   = "\x1b[90m"
)

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer, color bool) *printer {
	return &printer{w: w, color: color}
}

func (p *printer) paint(color, s string) string {
	if !p.color || s == "" {
		return s
	}
	return color + s + colorReset
}

func (p *printer) line(s string) {
	fmt.Fprintln(p.w, s)
}

func (p *printer) printf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

func (p *printer) infof(format string, args ...any) {
	p.line(p.paint(colorBold, fmt.Sprintf(format, args...)))
}

func (p *printer) errorf(format string, args ...any) {
	p.line(p.paint(colorRed, "error: "+fmt.Sprintf(format, args...)))
}

func (p *printer) message(severity debug.Severity, msg string) {
	switch severity {
	case debug.SeverityError:
		p.line(p.paint(colorRed, msg))
	case debug.SeverityWarning:
		p.line(p.paint(colorYellow, msg))
	default:
		p.line(msg)
	}
}

func (p *printer) output(category, output string) {
	output = strings.TrimSuffix(output, "\n")
	switch category {
	case "stderr":
		p.line(p.paint(colorRed, output))
	case "console", "important":
		p.line(p.paint(colorGray, output))
	default:
		p.line(output)
	}
}

func (p *printer) progress(pr debug.Progress) {
	switch {
	case pr.Done:
		p.printf("%s done", pr.Title)
	case pr.Percentage > 0:
		p.printf("%s %s (%.0f%%)", pr.Title, pr.Message, pr.Percentage)
	default:
		p.printf("%s %s", pr.Title, pr.Message)
	}
}

func (p *printer) watch(w debug.WatchResult) {
	if w.Err != nil {
		p.printf("  %s = %s", p.paint(colorBlue, w.Expression), p.paint(colorRed, w.Err.Error()))
		return
	}
	p.printf("  %s = %s", p.paint(colorBlue, w.Expression), w.Value)
}

func (p *printer) breakpoint(bp debug.Breakpoint) {
	var where string
	switch bp.Type {
	case debug.BreakpointTypeFunction:
		where = bp.FunctionName
	default:
		where = fmt.Sprintf("%s:%d", bp.Path, bp.Line)
	}
	state := p.paint(colorYellow, "unverified")
	if bp.Verified() {
		state = p.paint(colorGreen, "verified")
	}
	if !bp.Enabled {
		state = p.paint(colorGray, "disabled")
	}
	var extra []string
	if bp.Condition != "" {
		extra = append(extra, "if "+bp.Condition)
	}
	if bp.HitCondition != "" {
		extra = append(extra, "hits "+bp.HitCondition)
	}
	if bp.LogMessage != "" {
		extra = append(extra, "log "+bp.LogMessage)
	}
	if bp.HitCount > 0 {
		extra = append(extra, fmt.Sprintf("hit %d", bp.HitCount))
	}
	if msg := bp.Message(); msg != "" {
		extra = append(extra, msg)
	}
	text := fmt.Sprintf("%3d %-10s %s %s", bp.ID, bp.Type, where, state)
	if len(extra) > 0 {
		text += " (" + strings.Join(extra, ", ") + ")"
	}
	p.line(text)
}

func (p *printer) frame(f *debug.Frame, current bool) {
	marker := "  "
	if current {
		marker = p.paint(colorGreen, "=>")
	}
	p.printf("%s %4d %s at %s", marker, f.Id, f.Name, f.FormatLocation())
}

// tree prints the fetched part of a variable tree, one node per line,
// indented by depth.
func (p *printer) tree(t *debug.Tree) {
	var visit func(n *debug.Node, depth int)
	visit = func(n *debug.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		switch {
		case depth == 0:
			p.line(p.paint(colorBold, n.Name))
		case n.Type != "":
			p.printf("%s%s %s = %s", indent, p.paint(colorBlue, n.Name), p.paint(colorGray, n.Type), n.Value)
		default:
			p.printf("%s%s = %s", indent, p.paint(colorBlue, n.Name), n.Value)
		}
		if n.Fetched {
			for _, child := range t.Children(n) {
				visit(child, depth+1)
			}
		} else if n.HasChildren() && depth > 0 {
			p.printf("%s  ...", indent)
		}
	}
	for _, root := range t.Roots() {
		visit(root, 0)
	}
}

// source prints lines around line, marking it.
func (p *printer) source(text string, line, context int) {
	lines := strings.Split(text, "\n")
	start := max(line-context, 1)
	end := min(line+context, len(lines))
	for i := start; i <= end; i++ {
		marker := "  "
		if i == line {
			marker = p.paint(colorGreen, "=>")
		}
		p.printf("%s %4d: %s", marker, i, lines[i-1])
	}
}

// hexdump prints m sixteen bytes per row.
func (p *printer) hexdump(m debug.Memory) {
	base, _ := strconv.ParseUint(m.Address, 0, 64)
	for off := 0; off < len(m.Data); off += 16 {
		row := m.Data[off:min(off+16, len(m.Data))]
		var ascii strings.Builder
		for _, b := range row {
			if b >= 0x20 && b < 0x7f {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		p.printf("%s  % -47x  %s", p.paint(colorGray, fmt.Sprintf("%#016x", base+uint64(off))), row, ascii.String())
	}
	if m.Unreadable > 0 {
		p.printf("(%d bytes unreadable)", m.Unreadable)
	}
}
