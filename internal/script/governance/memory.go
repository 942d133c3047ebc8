package governance

import (
	"context"
	"log/slog"
	"os"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	bytesPerMB = 1024 * 1024

	heapObjectsMetric = "/memory/classes/heap/objects:bytes"

	// DefaultSampleInterval is how often Watch samples heap growth.
	DefaultSampleInterval = 5 * time.Millisecond
)

// Snapshot is a point-in-time reading of the process memory counters. A
// zero field means the counter was unavailable.
type Snapshot struct {
	RSS   uint64
	Heap  uint64
	Taken time.Time
}

// Tracker reads memory counters of the current process.
type Tracker struct {
	proc   *process.Process
	logger *slog.Logger
}

// NewTracker returns a tracker for the current process. If the platform
// counters cannot be opened the tracker still reports Go heap usage.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default().WithGroup("governance")
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("Process memory counters unavailable", "error", err)
		proc = nil
	}
	return &Tracker{proc: proc, logger: logger}
}

// Snapshot reads the counters now.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{Heap: HeapBytes(), Taken: time.Now()}
	if t == nil || t.proc == nil {
		return snap
	}
	info, err := t.proc.MemoryInfo()
	if err != nil {
		t.logger.Debug("Failed to read process memory", "error", err)
		return snap
	}
	snap.RSS = info.RSS
	return snap
}

// DeltaMB converts the growth between two snapshots to megabytes, using the
// larger of the RSS and heap deltas. It returns nil when neither counter was
// available in both snapshots.
func DeltaMB(before, after Snapshot) *float64 {
	var (
		delta uint64
		found bool
	)
	if before.RSS > 0 && after.RSS > 0 {
		found = true
		if after.RSS > before.RSS {
			delta = after.RSS - before.RSS
		}
	}
	if before.Heap > 0 && after.Heap > 0 {
		found = true
		if after.Heap > before.Heap && after.Heap-before.Heap > delta {
			delta = after.Heap - before.Heap
		}
	}
	if !found {
		return nil
	}
	mb := ToMB(delta)
	return &mb
}

// ToMB converts bytes to megabytes.
func ToMB(b uint64) float64 {
	return float64(b) / bytesPerMB
}

// HeapBytes returns the bytes occupied by live and not-yet-swept heap objects.
func HeapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// Watch samples heap growth above the baseline taken at start.
type Watch struct {
	baseline uint64
	limit    uint64
	peak     atomic.Uint64
	exceeded atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartWatch samples heap growth every interval until ctx ends or Stop is
// called. When growth passes limitBytes, onExceed is called once with the
// measured megabytes. A zero limit only records the peak.
func StartWatch(ctx context.Context, limitBytes uint64, interval time.Duration, onExceed func(usedMB float64)) *Watch {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	w := &Watch{
		baseline: HeapBytes(),
		limit:    limitBytes,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run(ctx, interval, onExceed)
	return w
}

func (w *Watch) run(ctx context.Context, interval time.Duration, onExceed func(usedMB float64)) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			used := w.sample()
			if w.limit > 0 && used > w.limit && w.exceeded.CompareAndSwap(false, true) {
				if onExceed != nil {
					onExceed(ToMB(used))
				}
			}
		}
	}
}

func (w *Watch) sample() uint64 {
	now := HeapBytes()
	if now <= w.baseline {
		return 0
	}
	used := now - w.baseline
	for {
		peak := w.peak.Load()
		if used <= peak || w.peak.CompareAndSwap(peak, used) {
			break
		}
	}
	return used
}

// Stop ends sampling and returns the peak growth in megabytes.
func (w *Watch) Stop() float64 {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	w.sample()
	return ToMB(w.peak.Load())
}

// Exceeded reports whether the limit was crossed while sampling.
func (w *Watch) Exceeded() bool {
	return w.exceeded.Load()
}

// OverLimit reports whether usedMB passes limitMB. A nil limit never trips.
func OverLimit(usedMB *float64, limitMB *uint64) bool {
	if usedMB == nil || limitMB == nil {
		return false
	}
	return *usedMB > float64(*limitMB)
}
