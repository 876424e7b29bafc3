package metrics

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample for one child.
type Usage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Sample reads memory and CPU usage for pid. CPU is the average since the
// process started, which needs no second sample and never blocks.
func Sample(pid int) (Usage, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return Usage{RSSBytes: mem.RSS}, err
	}
	return Usage{RSSBytes: mem.RSS, CPUPercent: cpu}, nil
}
