package service

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/maruel/panicparse/v2/stack"
)

const modulePath = "github.com/safing/attention"

// WriteDebugInfo writes the module states, the unit table and the stacks of
// all goroutines to w.
func (i *Instance) WriteDebugInfo(w io.Writer) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "attention %s (%s %s) instance %s at %s\n\n", i.version, runtime.GOOS, runtime.GOARCH, i.ID(), time.Now().Format(time.RFC3339))

	fmt.Fprintln(&buf, "===== MODULES =====")
	for _, m := range i.Modules() {
		fmt.Fprintf(&buf, "%s: %d workers\n", m.Manager().Name(), m.Manager().WorkerCount())
	}
	for _, update := range i.GetStates() {
		for _, state := range update.States {
			fmt.Fprintf(&buf, "%s: [%s] %s", update.Name, state.Type, state.Name)
			if state.Message != "" {
				fmt.Fprintf(&buf, ": %s", state.Message)
			}
			fmt.Fprintln(&buf)
		}
	}

	fmt.Fprintln(&buf, "\n===== UNITS =====")
	if err := i.scheduler.Print(&buf); err != nil {
		return fmt.Errorf("print units: %w", err)
	}

	fmt.Fprintf(&buf, "\n===== GOROUTINES: %d =====\n", runtime.NumGoroutine())
	if err := writeGoroutines(&buf); err != nil {
		return fmt.Errorf("summarize goroutines: %w", err)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func (i *Instance) handleDebug(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := i.WriteDebugInfo(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type goroutineGroup struct {
	State       string
	CurrentLine string
	Count       int
}

// writeGoroutines writes a table of all goroutines, grouped by state and the
// innermost call within this module.
func writeGoroutines(w io.Writer) error {
	snapshot, _, err := stack.ScanSnapshot(bytes.NewReader(fullStack()), io.Discard, stack.DefaultOpts())
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("get stack: %w", err)
	}
	if snapshot == nil {
		return errors.New("no goroutines found in stack")
	}

	groups := make(map[[2]string]*goroutineGroup)
	for _, gr := range snapshot.Goroutines {
		var currentLine string
		for _, call := range gr.Stack.Calls {
			if strings.HasPrefix(call.ImportPath, modulePath) {
				currentLine = call.ImportPath + "/" + call.SrcName + ":" + strconv.Itoa(call.Line)
				break
			}
		}
		// Fall back to last call if no better line was found.
		if currentLine == "" && len(gr.Stack.Calls) > 0 {
			call := gr.Stack.Calls[0]
			currentLine = call.ImportPath + "/" + call.SrcName + ":" + strconv.Itoa(call.Line)
		}

		key := [2]string{gr.State, currentLine}
		if g, ok := groups[key]; ok {
			g.Count++
		} else {
			groups[key] = &goroutineGroup{
				State:       gr.State,
				CurrentLine: currentLine,
				Count:       1,
			}
		}
	}

	sorted := slices.SortedFunc(maps.Values(groups), func(a, b *goroutineGroup) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.State, b.State); c != 0 {
			return c
		}
		return cmp.Compare(a.CurrentLine, b.CurrentLine)
	})

	tabWriter := tabwriter.NewWriter(w, 4, 4, 3, ' ', 0)
	_, _ = fmt.Fprintf(tabWriter, "#\tState\tCurrent Line\n")
	for _, g := range sorted {
		_, _ = fmt.Fprintf(tabWriter, "%d\t%s\t%s\n", g.Count, g.State, g.CurrentLine)
	}
	return tabWriter.Flush()
}

func fullStack() []byte {
	buf := make([]byte, 8096)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
