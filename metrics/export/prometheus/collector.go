package prometheus

import (
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/MrEthical07/oidcguard/metrics/export/internaldefs"
)

// Collector adapts a guard's snapshot to a client_golang registry. Values are
// read on every scrape; nothing is cached between scrapes.
type Collector struct {
	source       MetricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *promclient.Desc
}

type counterDesc struct {
	def  internaldefs.CounterDef
	desc *promclient.Desc
}

type histogramDesc struct {
	def  internaldefs.HistogramDef
	desc *promclient.Desc
}

var _ promclient.Collector = (*Collector)(nil)

// NewCollector builds a collector over source. constLabels are attached to
// every metric, for example to tell several guards apart.
func NewCollector(source MetricsSource, constLabels promclient.Labels) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{
			def:  def,
			desc: promclient.NewDesc(def.Name, def.Help, nil, constLabels),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{
			def:  def,
			desc: promclient.NewDesc(def.Name, def.Help, nil, constLabels),
		})
	}
	c.auditDropped = promclient.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, constLabels)
	return c
}

func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	for _, hd := range c.histograms {
		ch <- hd.desc
	}
	ch <- c.auditDropped
}

func (c *Collector) Collect(ch chan<- promclient.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, cd := range c.counters {
		ch <- promclient.MustNewConstMetric(cd.desc, promclient.CounterValue, float64(snapshot.Counters[cd.def.ID]))
	}

	for _, hd := range c.histograms {
		raw, ok := snapshot.Histograms[hd.def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for i, bound := range internaldefs.HistogramBoundValues {
			buckets[bound] = cumulative[i]
		}
		ch <- promclient.MustNewConstHistogram(hd.desc, cumulative[len(cumulative)-1], snapshot.HistogramSums[hd.def.ID].Seconds(), buckets)
	}

	ch <- promclient.MustNewConstMetric(c.auditDropped, promclient.CounterValue, float64(c.source.AuditDropped()))
}
