package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/safing/attention/base/log"
)

const hostStatTTL = 1 * time.Second

// cachedStat caches a host stat for hostStatTTL.
type cachedStat[T any] struct {
	lock    sync.Mutex
	name    string
	fetch   func() (*T, error)
	stat    *T
	expires time.Time
}

func (cs *cachedStat[T]) get() *T {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	if time.Now().Before(cs.expires) {
		return cs.stat
	}

	var err error
	cs.stat, err = cs.fetch()
	if err != nil {
		log.Warningf("metrics: failed to get %s: %s", cs.name, err)
		cs.stat = nil
	}
	cs.expires = time.Now().Add(hostStatTTL)

	return cs.stat
}

var (
	loadAvgStat = &cachedStat[load.AvgStat]{name: "load avg", fetch: load.Avg}
	memStat     = &cachedStat[mem.VirtualMemoryStat]{name: "memory stats", fetch: mem.VirtualMemory}
)

func registerHostMetrics() error {
	hostGauges := []struct {
		id   string
		name string
		fn   func() float64
	}{
		{"host/load/avg/1", "Host Load Avg 1min", hostStat(LoadAvg1)},
		{"host/load/avg/5", "Host Load Avg 5min", hostStat(LoadAvg5)},
		{"host/load/avg/15", "Host Load Avg 15min", hostStat(LoadAvg15)},
		{"host/mem/used", "Host Memory Used", hostStat(MemUsed)},
		{"host/mem/available", "Host Memory Available", hostStat(MemAvailable)},
		{"host/mem/used/percent", "Host Memory Used in Percent", hostStat(MemUsedPercent)},
	}
	for _, g := range hostGauges {
		if _, err := NewGauge(g.id, nil, g.fn, &Options{Name: g.name}); err != nil {
			return err
		}
	}
	return nil
}

func hostStat(getStat func() (float64, bool)) func() float64 {
	return func() float64 {
		val, _ := getStat()
		return val
	}
}

// LoadAvg1 returns the 1-minute average system load per CPU.
func LoadAvg1() (loadAvg float64, ok bool) {
	if stat := loadAvgStat.get(); stat != nil {
		return stat.Load1 / float64(runtime.NumCPU()), true
	}
	return 0, false
}

// LoadAvg5 returns the 5-minute average system load per CPU.
func LoadAvg5() (loadAvg float64, ok bool) {
	if stat := loadAvgStat.get(); stat != nil {
		return stat.Load5 / float64(runtime.NumCPU()), true
	}
	return 0, false
}

// LoadAvg15 returns the 15-minute average system load per CPU.
func LoadAvg15() (loadAvg float64, ok bool) {
	if stat := loadAvgStat.get(); stat != nil {
		return stat.Load15 / float64(runtime.NumCPU()), true
	}
	return 0, false
}

// MemUsed returns the used system memory in bytes.
func MemUsed() (used float64, ok bool) {
	if stat := memStat.get(); stat != nil {
		return float64(stat.Used), true
	}
	return 0, false
}

// MemAvailable returns the available system memory in bytes.
func MemAvailable() (available float64, ok bool) {
	if stat := memStat.get(); stat != nil {
		return float64(stat.Available), true
	}
	return 0, false
}

// MemUsedPercent returns the percent of used system memory.
func MemUsedPercent() (usedPercent float64, ok bool) {
	if stat := memStat.get(); stat != nil {
		return stat.UsedPercent, true
	}
	return 0, false
}
