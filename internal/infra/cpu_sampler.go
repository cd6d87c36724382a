package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	cpuSampleGap    = 120 * time.Millisecond
	cpuSampleMaxAge = 5 * time.Second
)

// cpuTicks is one cumulative CPU time reading. Readings from different
// sources use different units and are never compared.
type cpuTicks struct {
	total  float64
	idle   float64
	source string
	at     time.Time
}

type ticksReader func(ctx context.Context) (cpuTicks, error)

// CPUSampler computes whole-system CPU busy percent from cumulative tick
// deltas. It reuses the previous reading when it is fresh; otherwise it
// takes two readings cpuSampleGap apart.
type CPUSampler struct {
	read       ticksReader
	privileged ticksReader
	now        func() time.Time
	wait       func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	last *cpuTicks
}

// NewCPUSampler reads ticks through gopsutil, falling back to a privileged
// `cat /proc/stat` when exec is non-nil.
func NewCPUSampler(exec commandExecutor) *CPUSampler {
	s := &CPUSampler{
		read: readGopsutilTicks,
		now:  time.Now,
		wait: sleepCtx,
	}
	if exec != nil {
		s.privileged = func(ctx context.Context) (cpuTicks, error) {
			out, err := exec.ExecuteCommand(ctx, "cat /proc/stat")
			if err != nil {
				return cpuTicks{}, err
			}
			total, idle, err := ParseProcStatCPU(out)
			if err != nil {
				return cpuTicks{}, err
			}
			return cpuTicks{total: total, idle: idle, source: "procstat"}, nil
		}
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readGopsutilTicks(ctx context.Context) (cpuTicks, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpuTicks{}, err
	}
	if len(times) == 0 {
		return cpuTicks{}, errors.New("no cpu times")
	}
	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	return cpuTicks{total: total, idle: t.Idle + t.Iowait, source: "gopsutil"}, nil
}

// ParseProcStatCPU reads the aggregate "cpu" line of /proc/stat.
// idle includes iowait.
func ParseProcStatCPU(stat string) (total, idle float64, err error) {
	for _, line := range strings.Split(stat, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, f := range fields[1:] {
			// guest and guest_nice are already counted in user/nice
			if i >= 8 {
				break
			}
			v, perr := strconv.ParseFloat(f, 64)
			if perr != nil {
				return 0, 0, fmt.Errorf("invalid cpu field %q: %w", f, perr)
			}
			total += v
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return total, idle, nil
	}
	return 0, 0, errors.New("no aggregate cpu line")
}

func (s *CPUSampler) sample(ctx context.Context) (cpuTicks, ticksReader, error) {
	t, err := s.read(ctx)
	if err == nil {
		t.at = s.now()
		return t, s.read, nil
	}
	if s.privileged == nil {
		return cpuTicks{}, nil, err
	}
	t, perr := s.privileged(ctx)
	if perr != nil {
		return cpuTicks{}, nil, fmt.Errorf("failed to read cpu ticks: %v; privileged: %w", err, perr)
	}
	t.at = s.now()
	return t, s.privileged, nil
}

// Percent returns busy percent in [0, 100]. When ticks are unreadable it
// estimates from the 1-minute load average; nil means no estimate.
func (s *CPUSampler) Percent(ctx context.Context, load1 *float64, cores int) *float64 {
	cur, reader, err := s.sample(ctx)
	if err != nil {
		return loadEstimate(load1, cores)
	}

	s.mu.Lock()
	prev := s.last
	s.mu.Unlock()

	usable := prev != nil &&
		prev.source == cur.source &&
		cur.at.Sub(prev.at) <= cpuSampleMaxAge &&
		cur.total > prev.total

	if !usable {
		if err := s.wait(ctx, cpuSampleGap); err != nil {
			return loadEstimate(load1, cores)
		}
		next, err := reader(ctx)
		if err != nil {
			return loadEstimate(load1, cores)
		}
		next.at = s.now()
		first := cur
		prev, cur = &first, next
	}

	s.mu.Lock()
	stored := cur
	s.last = &stored
	s.mu.Unlock()

	dTotal := cur.total - prev.total
	if dTotal <= 0 {
		return loadEstimate(load1, cores)
	}
	busy := (1 - (cur.idle-prev.idle)/dTotal) * 100
	return clampPercent(busy)
}

func loadEstimate(load1 *float64, cores int) *float64 {
	if load1 == nil || cores <= 0 {
		return nil
	}
	return clampPercent(*load1 / float64(cores) * 100)
}

func clampPercent(v float64) *float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
