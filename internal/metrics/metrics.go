// Package metrics exports driver counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/pbx"
)

const namespace = "trunkie"

// Collector implements channel.Observer and worker.DropCounter on top of a
// private registry.
type Collector struct {
	reg *prometheus.Registry

	events       *prometheus.CounterVec
	eventErrors  *prometheus.CounterVec
	lockFailures *prometheus.CounterVec
	overruns     *prometheus.CounterVec
	underruns    *prometheus.CounterVec
	callsStarted *prometheus.CounterVec
	callsEnded   *prometheus.CounterVec
	callDuration prometheus.Histogram
	channels     *prometheus.GaugeVec
	eventDrops   *prometheus.CounterVec
	commandDrops *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_total",
			Help:      "Board events handled by channels",
		}, []string{"device", "event"}),
		eventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "event_errors_total",
			Help:      "Board events whose handler returned an error",
		}, []string{"device", "event"}),
		lockFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "lock_failures_total",
			Help:      "Channel lock acquisitions that gave up after all retries",
		}, []string{"device"}),
		overruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "overruns_total",
			Help:      "Frames from the PBX dropped because the writer buffer was full",
		}, []string{"device"}),
		underruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "underruns_total",
			Help:      "Frames handed to the PBX as comfort noise",
		}, []string{"device"}),
		callsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "started_total",
			Help:      "Calls seized on a channel",
		}, []string{"device", "direction"}),
		callsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "ended_total",
			Help:      "Calls released, by Q.850 cause",
		}, []string{"direction", "cause"}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Billable duration of answered calls",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		channels: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "state",
			Help:      "Channels per lifecycle state",
		}, []string{"state"}),
		eventDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "event_drops_total",
			Help:      "Events refused by a full device queue",
		}, []string{"device"}),
		commandDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "command_drops_total",
			Help:      "Commands refused by a full device queue",
		}, []string{"device"}),
	}
}

// Registry exposes the underlying registry, mostly for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// ChannelsAdded accounts for freshly created channels, which start idle.
func (c *Collector) ChannelsAdded(n int) {
	c.channels.WithLabelValues(channel.Idle.String()).Add(float64(n))
}

func dev(device int) string { return strconv.Itoa(device) }

func (c *Collector) EventHandled(device, _ int, code k3l.EventCode, err error) {
	c.events.WithLabelValues(dev(device), code.String()).Inc()
	if err != nil {
		c.eventErrors.WithLabelValues(dev(device), code.String()).Inc()
	}
}

func (c *Collector) LockFailed(device, _ int) {
	c.lockFailures.WithLabelValues(dev(device)).Inc()
}

func (c *Collector) StateChanged(_ channel.Snapshot, from, to channel.State) {
	if from == to {
		return
	}
	c.channels.WithLabelValues(from.String()).Dec()
	c.channels.WithLabelValues(to.String()).Inc()
}

func (c *Collector) CallStarted(device, _ int, dir pbx.Direction) {
	c.callsStarted.WithLabelValues(dev(device), dir.String()).Inc()
}

func (c *Collector) AudioOverrun(device, _ int) {
	c.overruns.WithLabelValues(dev(device)).Inc()
}

func (c *Collector) AudioUnderrun(device, _ int) {
	c.underruns.WithLabelValues(dev(device)).Inc()
}

// CallEnded records a finished call record.
func (c *Collector) CallEnded(rec *model.CallRecord) {
	c.callsEnded.WithLabelValues(rec.Direction, rec.CauseName).Inc()
	if d := rec.Duration(); d > 0 {
		c.callDuration.Observe(d.Seconds())
	}
}

func (c *Collector) EventDropped(device int) {
	c.eventDrops.WithLabelValues(dev(device)).Inc()
}

func (c *Collector) CommandDropped(device int) {
	c.commandDrops.WithLabelValues(dev(device)).Inc()
}
