package chooser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// TerminalPrompter prints the options as a numbered list and reads the pick
// from In. An empty line, "q" or EOF dismisses the picker.
//
// One goroutine reads In for the life of the prompter. A line typed after a
// cancelled prompt answers the next one.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan string
}

func (t *TerminalPrompter) readLines() {
	s := bufio.NewScanner(t.In)
	for s.Scan() {
		t.lines <- s.Text()
	}
	close(t.lines)
}

func (t *TerminalPrompter) Choose(ctx context.Context, options []Option) (string, error) {
	fmt.Fprintln(t.Out, "Select a wallet provider:")
	for i, o := range options {
		fmt.Fprintf(t.Out, "  [%d] %s\n", i+1, o.ID)
	}
	fmt.Fprint(t.Out, "> ")

	t.once.Do(func() {
		t.lines = make(chan string)
		go t.readLines()
	})

	var line string
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-t.lines:
		if !ok {
			return "", nil
		}
		line = strings.TrimSpace(l)
	}
	if line == "" || line == "q" {
		return "", nil
	}
	if n, err := strconv.Atoi(line); err == nil {
		if n < 1 || n > len(options) {
			return "", fmt.Errorf("choice %d out of range", n)
		}
		return options[n-1].ID, nil
	}
	for _, o := range options {
		if o.ID == line {
			return o.ID, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", line)
}
