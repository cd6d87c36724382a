package domain

// ResourceReport is the system snapshot served by /v1/system/resources.
// Optional sections are nil when the source could not be read.
type ResourceReport struct {
	TimestampMs int64 `json:"timestampMs"`
	CPUCores    int   `json:"cpuCores"`

	LoadAvg1m  *float64 `json:"loadAvg1m,omitempty"`
	LoadAvg5m  *float64 `json:"loadAvg5m,omitempty"`
	LoadAvg15m *float64 `json:"loadAvg15m,omitempty"`
	CPUPercent *float64 `json:"cpuPercent,omitempty"`

	MemTotalBytes     *uint64       `json:"memTotalBytes,omitempty"`
	MemAvailableBytes *uint64       `json:"memAvailableBytes,omitempty"`
	MemFreeBytes      *uint64       `json:"memFreeBytes,omitempty"`
	MemUsedBytes      *uint64       `json:"memUsedBytes,omitempty"`
	Memory            *MemoryReport `json:"memory,omitempty"`

	Runtime RuntimeReport  `json:"runtime"`
	Uptime  *UptimeReport  `json:"uptime,omitempty"`
	Storage []StorageEntry `json:"storage,omitempty"`
	Battery *BatteryReport `json:"battery,omitempty"`
	Network []NetworkEntry `json:"network,omitempty"`
	Thermal []ThermalEntry `json:"thermal,omitempty"`
}

// MemoryReport is the /proc/meminfo breakdown in bytes.
type MemoryReport struct {
	TotalBytes      uint64 `json:"totalBytes"`
	AvailableBytes  uint64 `json:"availableBytes"`
	FreeBytes       uint64 `json:"freeBytes"`
	UsedBytes       uint64 `json:"usedBytes"`
	BuffersBytes    uint64 `json:"buffersBytes"`
	CachedBytes     uint64 `json:"cachedBytes"`
	SwapCachedBytes uint64 `json:"swapCachedBytes"`
	ActiveBytes     uint64 `json:"activeBytes"`
	InactiveBytes   uint64 `json:"inactiveBytes"`
	ShmemBytes      uint64 `json:"shmemBytes"`
	SlabBytes       uint64 `json:"slabBytes"`
	SwapTotalBytes  uint64 `json:"swapTotalBytes"`
	SwapFreeBytes   uint64 `json:"swapFreeBytes"`
}

// RuntimeReport describes the daemon's own Go heap.
type RuntimeReport struct {
	NumCPU         int    `json:"availableProcessors"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapSysBytes   uint64 `json:"heapSysBytes"`
	HeapIdleBytes  uint64 `json:"heapIdleBytes"`
	HeapInuseBytes uint64 `json:"heapInuseBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	NumGC          uint32 `json:"numGC"`
}

// UptimeReport carries process and system uptime.
type UptimeReport struct {
	ProcessUptimeMs  int64    `json:"processUptimeMs"`
	ProcessUptimeSec float64  `json:"processUptimeSec"`
	SystemUptimeSec  *float64 `json:"systemUptimeSec,omitempty"`
	SystemUptimeMs   *int64   `json:"systemUptimeMs,omitempty"`
}

// StorageEntry is filesystem usage for one watched path.
type StorageEntry struct {
	Label          string `json:"label"`
	Path           string `json:"path"`
	TotalBytes     uint64 `json:"totalBytes"`
	FreeBytes      uint64 `json:"freeBytes"`
	AvailableBytes uint64 `json:"availableBytes"`
	UsedBytes      uint64 `json:"usedBytes"`
}

// BatteryReport mirrors the power_supply battery node.
type BatteryReport struct {
	LevelPercent *float64 `json:"levelPercent,omitempty"`
	Level        *int     `json:"level,omitempty"`
	Scale        *int     `json:"scale,omitempty"`
	Status       string   `json:"status"`
	Health       string   `json:"health"`
	Charging     bool     `json:"charging"`
	Plugged      bool     `json:"plugged"`
	PlugType     string   `json:"plugType"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	VoltageMv    *int     `json:"voltageMv,omitempty"`
}

// NetworkEntry holds per-interface counters.
type NetworkEntry struct {
	Interface string `json:"interface"`
	RxBytes   uint64 `json:"rxBytes"`
	RxPackets uint64 `json:"rxPackets"`
	RxErrors  uint64 `json:"rxErrors"`
	RxDropped uint64 `json:"rxDropped"`
	TxBytes   uint64 `json:"txBytes"`
	TxPackets uint64 `json:"txPackets"`
	TxErrors  uint64 `json:"txErrors"`
	TxDropped uint64 `json:"txDropped"`
}

// ThermalEntry is one thermal zone reading.
type ThermalEntry struct {
	Zone  string  `json:"zone"`
	Type  string  `json:"type"`
	TempC float64 `json:"tempC"`
}
