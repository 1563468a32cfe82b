// Package stats holds the kernel's lightweight statistical counters:
// per-subsystem event counts and cycle-time accumulators, toggled off
// entirely at compile time when disabled.
//
// Grounded on biscuit/src/stats/stats.go, with runtime.Rdtsc (a
// biscuit-patched Go runtime builtin, unavailable in a stock toolchain)
// replaced by cpu.ReadTSC, the RDTSC wrapper in internal/cpu.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"kcore/internal/cpu"
)

// Enabled toggles whether Counter_t.Inc and Cycles_t.Add do anything.
// Flipping it to false compiles the accounting out of the hot paths
// entirely, same as biscuit's Stats/Timing constants.
const Enabled = false

// Nirqs counts deliveries per IRQ vector.
var Nirqs [256]int64

// Irqs is the total IRQ count across all vectors.
var Irqs int64

// RecordIRQ increments the per-vector and total IRQ counters.
func RecordIRQ(vector int) {
	if !Enabled {
		return
	}
	atomic.AddInt64(&Nirqs[vector], 1)
	atomic.AddInt64(&Irqs, 1)
}

// Cycles returns the current TSC value when accounting is enabled, or
// zero otherwise. Callers use it to bracket a region: start := Cycles();
// ...; counter.Add(start).
func Cycles() uint64 {
	if Enabled {
		return cpu.ReadTSC()
	}
	return 0
}

// Counter_t is an event counter.
type Counter_t int64

// Cycles_t accumulates elapsed cycles.
type Cycles_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add adds n to the counter.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Add adds the cycles elapsed since start (as returned by Cycles) to c.
func (c *Cycles_t) Add(start uint64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), int64(cpu.ReadTSC()-start))
	}
}

// Dump renders every Counter_t and Cycles_t field of st as a
// human-readable report, or the empty string when accounting is
// disabled.
func Dump(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		ft := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(ft, "Counter_t"):
			n := *(*int64)(unsafe.Pointer(v.Field(i).UnsafeAddr()))
			b.WriteString("\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(n, 10))
		case strings.HasSuffix(ft, "Cycles_t"):
			n := *(*int64)(unsafe.Pointer(v.Field(i).UnsafeAddr()))
			b.WriteString("\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(n, 10))
		}
	}
	b.WriteString("\n")
	return b.String()
}
