package sampler

import (
	"runtime"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// ResourceSource provides the resource snapshot of a sample.
type ResourceSource interface {
	SampleResources() load.ResourceSnapshot
}

// HostResources reads host CPU, disk and network counters with gopsutil and
// relates the memory obtained by the Go runtime to the total system memory.
// IO counters are cumulative since boot. A counter that cannot be read is
// reported as zero.
type HostResources struct {
	log         zerolog.Logger
	totalMemory uint64
}

var _ ResourceSource = (*HostResources)(nil)

func NewHostResources(log zerolog.Logger) *HostResources {
	return &HostResources{
		log:         log.With().Str("component", "host_resources").Logger(),
		totalMemory: memory.TotalMemory(),
	}
}

func (h *HostResources) SampleResources() load.ResourceSnapshot {
	var snapshot load.ResourceSnapshot

	// interval 0 compares against the previous call
	percents, err := cpu.Percent(0, false)
	if err != nil {
		h.log.Debug().Err(err).Msg("could not read cpu utilization")
	} else if len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	snapshot.MemoryBytes = stats.Sys
	if h.totalMemory > 0 {
		snapshot.MemoryPercent = float64(stats.Sys) / float64(h.totalMemory) * 100
	}

	disks, err := disk.IOCounters()
	if err != nil {
		h.log.Debug().Err(err).Msg("could not read disk io counters")
	}
	for _, d := range disks {
		snapshot.DiskIOBytes += d.ReadBytes + d.WriteBytes
	}

	nets, err := net.IOCounters(false)
	if err != nil {
		h.log.Debug().Err(err).Msg("could not read network io counters")
	}
	for _, n := range nets {
		snapshot.NetIOBytes += n.BytesSent + n.BytesRecv
	}

	return snapshot
}
