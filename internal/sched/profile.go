package sched

import (
	"io"
	"strconv"

	"github.com/google/pprof/profile"
)

// Dump serializes the current tick distribution across every thread
// in the scheduler's by-ID table (threads already reaped are not
// included) into the standard pprof wire format,
// written to w. There is no network stack to serve net/http/pprof
// over in this kernel, so offline analysis (writing the dump through
// the console, or a debug port, to a host running `go tool pprof`) is
// the only way to inspect where ticks are going.
func (s *Scheduler) Dump(w io.Writer) error {
	s.mu.Lock()
	threads := make([]*Thread, 0, len(s.byID))
	for _, t := range s.byID {
		threads = append(threads, t)
	}
	s.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "ticks", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "ticks", Unit: "count"},
		Period:     1,
	}

	for _, t := range threads {
		fn := &profile.Function{
			ID:   uint64(len(p.Function)) + 1,
			Name: threadFuncName(t.ID),
		}
		p.Function = append(p.Function, fn)

		loc := &profile.Location{
			ID:   uint64(len(p.Location)) + 1,
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{t.ticksRun},
		})
	}

	return p.Write(w)
}

func threadFuncName(id uint64) string {
	return "thread#" + strconv.FormatUint(id, 10)
}
