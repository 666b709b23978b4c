package scheduler

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"
)

// UnitInfo is a snapshot of a registered unit.
type UnitInfo struct {
	ID        string        `json:"id"`
	Priority  float32       `json:"priority"`
	ValueRate float64       `json:"valueRate"`
	Value     float64       `json:"value"`
	TimeUsed  time.Duration `json:"timeUsed"`
	Steps     uint64        `json:"steps"`
	Errors    uint64        `json:"errors"`
	Panics    uint64        `json:"panics"`
	Sleeping  bool          `json:"sleeping"`
	Singleton bool          `json:"singleton"`
	Busy      bool          `json:"busy"`
}

// Units returns a snapshot of all registered units, ordered by descending
// priority.
func (s *Scheduler) Units() []UnitInfo {
	now := s.now()
	entries := s.reg.snapshot()

	infos := make([]UnitInfo, 0, len(entries))
	for _, e := range entries {
		u := e.unit
		infos = append(infos, UnitInfo{
			ID:        u.ID(),
			Priority:  u.Priority(),
			ValueRate: valueRate(u),
			Value:     u.Value(),
			TimeUsed:  u.TimeUsed(),
			Steps:     e.steps.Load(),
			Errors:    e.errors.Load(),
			Panics:    e.panics.Load(),
			Sleeping:  u.Sleeping(now),
			Singleton: u.Singleton(),
			Busy:      e.busy.IsSet(),
		})
	}

	slices.SortStableFunc(infos, func(a, b UnitInfo) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// Print writes a table of the registered units with their priority and
// time used.
func (s *Scheduler) Print(w io.Writer) error {
	st := s.Stats()
	_, err := fmt.Fprintf(
		w,
		"scheduler %s: workers=%d queue=%d/%d tasks=%d (direct %d) steps=%d (errors %d)\n",
		st.State,
		st.Workers,
		st.QueueLen,
		st.QueueCap,
		st.TasksExecuted,
		st.TasksDirect,
		st.Steps,
		st.StepErrors,
	)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tPRIORITY\tVALUE/S\tTIME USED\tSTEPS\tERRORS\tFLAGS")
	for _, info := range s.Units() {
		fmt.Fprintf(
			tw,
			"%s\t%.3f\t%.3f\t%s\t%d\t%d\t%s\n",
			info.ID,
			info.Priority,
			info.ValueRate,
			info.TimeUsed.Round(time.Microsecond),
			info.Steps,
			info.Errors+info.Panics,
			flags(info),
		)
	}
	return tw.Flush()
}

func flags(info UnitInfo) string {
	f := []byte("---")
	if info.Sleeping {
		f[0] = 'z'
	}
	if info.Singleton {
		f[1] = 's'
	}
	if info.Busy {
		f[2] = 'b'
	}
	return string(f)
}
