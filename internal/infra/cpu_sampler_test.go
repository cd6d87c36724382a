package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when wait is called.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) wait(ctx context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

func sequenceReader(source string, readings ...[2]float64) ticksReader {
	i := 0
	return func(ctx context.Context) (cpuTicks, error) {
		if i >= len(readings) {
			return cpuTicks{}, errors.New("exhausted")
		}
		r := readings[i]
		i++
		return cpuTicks{total: r[0], idle: r[1], source: source}, nil
	}
}

func newTestSampler(read, privileged ticksReader) (*CPUSampler, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	return &CPUSampler{read: read, privileged: privileged, now: clock.now, wait: clock.wait}, clock
}

func TestCPUSampler_TwoSamplesWhenNoPrevious(t *testing.T) {
	s, clock := newTestSampler(sequenceReader("gopsutil", [2]float64{100, 50}, [2]float64{200, 75}), nil)
	start := clock.t

	p := s.Percent(context.Background(), nil, 4)
	require.NotNil(t, p)
	assert.InDelta(t, 75.0, *p, 0.001)
	assert.Equal(t, cpuSampleGap, clock.t.Sub(start))
}

func TestCPUSampler_ReusesFreshPrevious(t *testing.T) {
	s, clock := newTestSampler(sequenceReader("gopsutil",
		[2]float64{100, 50}, [2]float64{200, 75}, // first call
		[2]float64{300, 175}, // second call, delta against 200/75
	), nil)

	s.Percent(context.Background(), nil, 4)
	clock.t = clock.t.Add(time.Second)
	before := clock.t

	p := s.Percent(context.Background(), nil, 4)
	require.NotNil(t, p)
	assert.InDelta(t, 0.0, *p, 0.001)
	assert.Equal(t, before, clock.t, "no extra wait expected")
}

func TestCPUSampler_StalePreviousResamples(t *testing.T) {
	s, clock := newTestSampler(sequenceReader("gopsutil",
		[2]float64{100, 50}, [2]float64{200, 75},
		[2]float64{1000, 500}, [2]float64{1100, 590},
	), nil)

	s.Percent(context.Background(), nil, 4)
	clock.t = clock.t.Add(time.Minute)

	p := s.Percent(context.Background(), nil, 4)
	require.NotNil(t, p)
	assert.InDelta(t, 10.0, *p, 0.001)
}

func TestCPUSampler_PrivilegedFallback(t *testing.T) {
	failing := func(ctx context.Context) (cpuTicks, error) { return cpuTicks{}, errors.New("permission denied") }
	s, _ := newTestSampler(failing, sequenceReader("procstat", [2]float64{1000, 900}, [2]float64{1100, 950}))

	p := s.Percent(context.Background(), nil, 4)
	require.NotNil(t, p)
	assert.InDelta(t, 50.0, *p, 0.001)
}

func TestCPUSampler_LoadAverageFallback(t *testing.T) {
	failing := func(ctx context.Context) (cpuTicks, error) { return cpuTicks{}, errors.New("nope") }
	s, _ := newTestSampler(failing, nil)

	load := 2.0
	p := s.Percent(context.Background(), &load, 8)
	require.NotNil(t, p)
	assert.InDelta(t, 25.0, *p, 0.001)

	high := 64.0
	p = s.Percent(context.Background(), &high, 8)
	assert.InDelta(t, 100.0, *p, 0.001)

	assert.Nil(t, s.Percent(context.Background(), nil, 8))
}

func TestCPUSampler_SourceChangeIgnoresPrevious(t *testing.T) {
	s, _ := newTestSampler(sequenceReader("gopsutil", [2]float64{100, 50}, [2]float64{200, 100}), nil)
	s.last = &cpuTicks{total: 10, idle: 5, source: "procstat", at: time.Unix(1000, 0)}

	p := s.Percent(context.Background(), nil, 4)
	require.NotNil(t, p)
	assert.InDelta(t, 50.0, *p, 0.001)
}

func TestParseProcStatCPU(t *testing.T) {
	stat := "cpu  100 10 50 800 40 0 0 0 30 0\ncpu0 50 5 25 400 20 0 0 0 0 0\nintr 1 2 3\n"
	total, idle, err := ParseProcStatCPU(stat)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, total)
	assert.Equal(t, 840.0, idle)

	_, _, err = ParseProcStatCPU("intr 1 2 3")
	assert.Error(t, err)

	_, _, err = ParseProcStatCPU("cpu a b c d e")
	assert.Error(t, err)
}
