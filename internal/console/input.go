package console

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-isatty"
)

const prompt = "(dape) "

// lineReader yields one command line per call. ReadLine returns io.EOF once
// input is exhausted.
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

// newLineReader edits lines with liner when in is a terminal and reads plain
// lines otherwise.
func newLineReader(in io.Reader, cmds *Commands, interrupt func()) lineReader {
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) && liner.TerminalSupported() {
		return newTermReader(cmds, interrupt)
	}
	return &scanReader{sc: bufio.NewScanner(in)}
}

type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) ReadLine() (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }

// termReader prompts on the terminal with history and command completion.
// Ctrl-C interrupts the active session instead of ending input.
type termReader struct {
	line      *liner.State
	interrupt func()
}

func newTermReader(cmds *Commands, interrupt func()) *termReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(cmds.complete)
	return &termReader{line: line, interrupt: interrupt}
}

func (r *termReader) ReadLine() (string, error) {
	for {
		l, err := r.line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			if r.interrupt != nil {
				r.interrupt()
			}
			continue
		}
		if err != nil {
			return "", err
		}
		l = strings.TrimSuffix(l, "\n")
		if strings.TrimSpace(l) != "" {
			r.line.AppendHistory(l)
		}
		return l, nil
	}
}

// Close returns the terminal to its previous mode.
func (r *termReader) Close() error {
	return r.line.Close()
}
