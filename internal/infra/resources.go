package infra

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

const maxThermalZones = 24

// StoragePath is a labelled filesystem to report usage for.
type StoragePath struct {
	Label string `yaml:"label"`
	Path  string `yaml:"path"`
}

// DefaultStoragePaths lists the root, data, home, prefix and shared storage.
func DefaultStoragePaths(p *Paths) []StoragePath {
	return []StoragePath{
		{Label: "root", Path: "/"},
		{Label: "data", Path: "/data"},
		{Label: "home", Path: p.Home},
		{Label: "prefix", Path: p.Prefix},
		{Label: "shared", Path: "/storage/emulated/0"},
	}
}

// ResourceCollector implements domain.ResourceSampler. Every section is
// best effort: unreadable sources are left out of the report.
type ResourceCollector struct {
	cpu       *CPUSampler
	storage   []StoragePath
	sysfsRoot string
	startedAt time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// NewResourceCollector creates a collector. privileged may be nil.
func NewResourceCollector(storage []StoragePath, privileged commandExecutor, logger *zap.Logger) *ResourceCollector {
	return &ResourceCollector{
		cpu:       NewCPUSampler(privileged),
		storage:   storage,
		sysfsRoot: "/sys",
		startedAt: time.Now(),
		now:       time.Now,
		logger:    logger,
	}
}

// WithSysfsRoot points battery and thermal readers at another tree (for testing).
func (c *ResourceCollector) WithSysfsRoot(root string) *ResourceCollector {
	c.sysfsRoot = root
	return c
}

// Sample collects a report.
func (c *ResourceCollector) Sample(ctx context.Context) (*domain.ResourceReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := c.now()

	report := &domain.ResourceReport{
		TimestampMs: now.UnixMilli(),
		CPUCores:    runtime.NumCPU(),
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		report.CPUCores = n
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		report.LoadAvg1m = &avg.Load1
		report.LoadAvg5m = &avg.Load5
		report.LoadAvg15m = &avg.Load15
	} else {
		c.logger.Debug("load average unavailable", zap.Error(err))
	}

	report.CPUPercent = c.cpu.Percent(ctx, report.LoadAvg1m, report.CPUCores)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		report.MemTotalBytes = &vm.Total
		report.MemAvailableBytes = &vm.Available
		report.MemFreeBytes = &vm.Free
		used := vm.Total - vm.Available
		report.MemUsedBytes = &used
		report.Memory = &domain.MemoryReport{
			TotalBytes:      vm.Total,
			AvailableBytes:  vm.Available,
			FreeBytes:       vm.Free,
			UsedBytes:       used,
			BuffersBytes:    vm.Buffers,
			CachedBytes:     vm.Cached,
			SwapCachedBytes: vm.SwapCached,
			ActiveBytes:     vm.Active,
			InactiveBytes:   vm.Inactive,
			ShmemBytes:      vm.Shared,
			SlabBytes:       vm.Slab,
			SwapTotalBytes:  vm.SwapTotal,
			SwapFreeBytes:   vm.SwapFree,
		}
	} else {
		c.logger.Debug("memory stats unavailable", zap.Error(err))
	}

	report.Runtime = runtimeReport()
	report.Uptime = c.uptime(ctx, now)
	report.Storage = c.storageEntries(ctx)
	report.Battery = ReadBattery(filepath.Join(c.sysfsRoot, "class", "power_supply"))
	report.Network = networkEntries(ctx)
	report.Thermal = ReadThermalZones(filepath.Join(c.sysfsRoot, "class", "thermal"))
	if len(report.Thermal) == 0 {
		report.Thermal = sensorTemperatures(ctx)
	}

	return report, nil
}

func runtimeReport() domain.RuntimeReport {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return domain.RuntimeReport{
		NumCPU:         runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		HeapIdleBytes:  ms.HeapIdle,
		HeapInuseBytes: ms.HeapInuse,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
	}
}

func (c *ResourceCollector) uptime(ctx context.Context, now time.Time) *domain.UptimeReport {
	processMs := now.Sub(c.startedAt).Milliseconds()
	u := &domain.UptimeReport{
		ProcessUptimeMs:  processMs,
		ProcessUptimeSec: float64(processMs) / 1000,
	}
	if secs, err := host.UptimeWithContext(ctx); err == nil {
		s := float64(secs)
		ms := int64(secs) * 1000
		u.SystemUptimeSec = &s
		u.SystemUptimeMs = &ms
	}
	return u
}

func (c *ResourceCollector) storageEntries(ctx context.Context) []domain.StorageEntry {
	var entries []domain.StorageEntry
	seen := make(map[string]bool)
	for _, sp := range c.storage {
		if sp.Path == "" || seen[sp.Path] {
			continue
		}
		seen[sp.Path] = true

		usage, err := disk.UsageWithContext(ctx, sp.Path)
		if err != nil {
			c.logger.Debug("storage unavailable", zap.String("path", sp.Path), zap.Error(err))
			continue
		}
		entries = append(entries, domain.StorageEntry{
			Label:          sp.Label,
			Path:           sp.Path,
			TotalBytes:     usage.Total,
			FreeBytes:      usage.Free,
			AvailableBytes: usage.Free,
			UsedBytes:      usage.Used,
		})
	}
	return entries
}

func networkEntries(ctx context.Context) []domain.NetworkEntry {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil
	}
	entries := make([]domain.NetworkEntry, 0, len(counters))
	for _, n := range counters {
		entries = append(entries, domain.NetworkEntry{
			Interface: n.Name,
			RxBytes:   n.BytesRecv,
			RxPackets: n.PacketsRecv,
			RxErrors:  n.Errin,
			RxDropped: n.Dropin,
			TxBytes:   n.BytesSent,
			TxPackets: n.PacketsSent,
			TxErrors:  n.Errout,
			TxDropped: n.Dropout,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Interface < entries[j].Interface })
	return entries
}

func sensorTemperatures(ctx context.Context) []domain.ThermalEntry {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return nil
	}
	var entries []domain.ThermalEntry
	for _, t := range temps {
		entries = append(entries, domain.ThermalEntry{Zone: t.SensorKey, Type: t.SensorKey, TempC: t.Temperature})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Zone < entries[j].Zone })
	if len(entries) > maxThermalZones {
		entries = entries[:maxThermalZones]
	}
	return entries
}

// ReadThermalZones reads thermal_zone* under dir. Millidegree readings
// (above 1000) are scaled to degrees.
func ReadThermalZones(dir string) []domain.ThermalEntry {
	zones, err := filepath.Glob(filepath.Join(dir, "thermal_zone*"))
	if err != nil {
		return nil
	}
	sort.Slice(zones, func(i, j int) bool { return zoneIndex(zones[i]) < zoneIndex(zones[j]) })

	var entries []domain.ThermalEntry
	for _, zone := range zones {
		if len(entries) >= maxThermalZones {
			break
		}
		raw, err := ReadTrimmed(filepath.Join(zone, "temp"))
		if err != nil {
			continue
		}
		temp, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if temp > 1000 {
			temp /= 1000
		}
		zoneType, _ := ReadTrimmed(filepath.Join(zone, "type"))
		entries = append(entries, domain.ThermalEntry{
			Zone:  filepath.Base(zone),
			Type:  zoneType,
			TempC: temp,
		})
	}
	return entries
}

func zoneIndex(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "thermal_zone"))
	if err != nil {
		return 1 << 30
	}
	return n
}

// ReadBattery reads the first power_supply node of type Battery under dir
// and derives plug state from the online flag of the other supplies.
func ReadBattery(dir string) *domain.BatteryReport {
	supplies, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var battery *domain.BatteryReport
	plugType := "none"
	for _, s := range supplies {
		node := filepath.Join(dir, s.Name())
		kind, err := ReadTrimmed(filepath.Join(node, "type"))
		if err != nil {
			continue
		}
		switch strings.ToLower(kind) {
		case "battery":
			if battery == nil {
				battery = readBatteryNode(node)
			}
		case "mains", "usb", "usb_pd", "usb_dcp", "usb_cdp", "wireless":
			if online, _ := ReadTrimmed(filepath.Join(node, "online")); online == "1" && plugType == "none" {
				plugType = plugName(kind)
			}
		}
	}
	if battery == nil {
		return nil
	}
	battery.PlugType = plugType
	battery.Plugged = plugType != "none"
	return battery
}

func plugName(kind string) string {
	switch strings.ToLower(kind) {
	case "mains":
		return "ac"
	case "wireless":
		return "wireless"
	default:
		return "usb"
	}
}

func readBatteryNode(node string) *domain.BatteryReport {
	b := &domain.BatteryReport{}
	if v, ok := readInt(filepath.Join(node, "capacity")); ok {
		scale := 100
		pct := float64(v)
		b.Level = &v
		b.Scale = &scale
		b.LevelPercent = &pct
	}
	b.Status, _ = ReadTrimmed(filepath.Join(node, "status"))
	b.Health, _ = ReadTrimmed(filepath.Join(node, "health"))
	b.Charging = b.Status == "Charging" || b.Status == "Full"
	if v, ok := readInt(filepath.Join(node, "temp")); ok {
		c := float64(v) / 10
		b.TemperatureC = &c
	}
	if v, ok := readInt(filepath.Join(node, "voltage_now")); ok {
		mv := v
		if mv > 100000 {
			mv /= 1000 // microvolts
		}
		b.VoltageMv = &mv
	}
	return b
}

func readInt(path string) (int, bool) {
	s, err := ReadTrimmed(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Ensure ResourceCollector implements domain.ResourceSampler.
var _ domain.ResourceSampler = (*ResourceCollector)(nil)
