package load

import "time"

// ResourceSnapshot is a point-in-time reading of process and host resources.
type ResourceSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	DiskIOBytes   uint64  `json:"disk_io_bytes"`
	NetIOBytes    uint64  `json:"net_io_bytes"`
}

// MetricSample is one tick of the metrics collector.
type MetricSample struct {
	Timestamp time.Time        `json:"timestamp"`
	TPS       float64          `json:"tps"`
	AvgTPS    float64          `json:"avg_tps"`
	Completed uint64           `json:"completed"`
	QueueLen  int              `json:"queue_len"`
	Resources ResourceSnapshot `json:"resources"`
}
