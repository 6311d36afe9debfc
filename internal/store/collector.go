package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type pebbleStat struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*pebble.Metrics) float64
}

// PebbleCollector exports LSM health of a Pebble store to Prometheus.
type PebbleCollector struct {
	db    *pebble.DB
	stats []pebbleStat
}

var _ prometheus.Collector = (*PebbleCollector)(nil)

func newStat(name, help string, kind prometheus.ValueType, value func(*pebble.Metrics) float64) pebbleStat {
	return pebbleStat{
		desc:  prometheus.NewDesc("syncspace_pebble_"+name, help, nil, nil),
		kind:  kind,
		value: value,
	}
}

// Collector returns a collector reading p's metrics on every scrape.
func (p *Pebble) Collector() *PebbleCollector {
	return &PebbleCollector{
		db: p.db,
		stats: []pebbleStat{
			newStat("compaction_count_total", "Compactions performed", prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) }),
			newStat("compaction_estimated_debt_bytes", "Bytes to compact before the LSM is stable", prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) }),
			newStat("memtable_size_bytes", "Bytes held in memtables", prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) }),
			newStat("memtable_count", "Live memtables", prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) }),
			newStat("wal_files", "Live WAL files", prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) }),
			newStat("wal_size_bytes", "Size of live WAL files", prometheus.GaugeValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) }),
			newStat("wal_bytes_written_total", "Bytes written to the WAL", prometheus.CounterValue,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) }),
		},
	}
}

func (c *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.stats {
		ch <- s.desc
	}
}

func (c *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.db.Metrics()
	for _, s := range c.stats {
		ch <- prometheus.MustNewConstMetric(s.desc, s.kind, s.value(m))
	}
}
