// Package flamegraph folds recorded profiler scopes into collapsed stacks and
// renders them as an SVG flame graph.
package flamegraph

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
)

// Stacks maps a folded stack ("thread;outer;inner") to its self time in
// microseconds.
type Stacks map[string]int64

// Collapse folds the scopes of frames into self-time stacks. Each stack is
// rooted at the scope's thread name.
func Collapse(frames []profiler.Frame) Stacks {
	inclusive := make(map[string]int64)
	for _, f := range frames {
		for _, s := range f.Scopes {
			key := s.Thread + ";" + s.Path
			inclusive[key] += s.Duration.Microseconds()
		}
	}

	stacks := make(Stacks, len(inclusive))
	for key, total := range inclusive {
		stacks[key] += total
		if idx := strings.LastIndex(key, ";"); idx > 0 {
			parent := key[:idx]
			if _, ok := inclusive[parent]; ok {
				stacks[parent] -= total
			}
		}
	}
	for key, v := range stacks {
		if v <= 0 {
			delete(stacks, key)
		}
	}
	return stacks
}

// WriteCollapsed writes stacks in folded format, one "stack count" per line,
// sorted by stack.
func WriteCollapsed(w io.Writer, stacks Stacks) error {
	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, stacks[k]); err != nil {
			return err
		}
	}
	return nil
}

// ReadCollapsed parses folded format. Lines without a count weigh 1.
func ReadCollapsed(r io.Reader) (Stacks, error) {
	stacks := make(Stacks)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// scope names may contain spaces, the count follows the last one
		stack, count := line, int64(1)
		if i := strings.LastIndex(line, " "); i >= 0 {
			stack = strings.TrimSpace(line[:i])
			n, err := strconv.ParseInt(line[i+1:], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid count in %q: %w", line, err)
			}
			count = n
		}
		stacks[stack] += count
	}
	return stacks, scanner.Err()
}
