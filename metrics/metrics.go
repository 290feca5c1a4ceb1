// Package metrics exposes the engine's spec.md §6.4 counters and routing
// state as Prometheus metrics.
//
// Grounded on the teacher's exporter pattern (the runZeroInc-conniver
// pkg/exporter.TCPInfoCollector and its sibling in runZeroInc-sockstats): a
// struct implementing prometheus.Collector, with one *prometheus.Desc per
// exposed field built once in a constructor and reused across Collect calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aethermesh/aethermesh/counters"
)

// Source is the subset of *engine.Engine the collector depends on, kept
// narrow so it can be satisfied by a fake in tests without importing engine
// (which would otherwise make metrics depend on the whole node).
type Source interface {
	Counters() counters.Snapshot
	RoutingTableSize() int
	SendQueueSize() int
	ReceivedQueueSize() int
	OutboundSequences() int
	InboundSequences() int
}

// Collector adapts a Source into a prometheus.Collector. Register it with a
// prometheus.Registry; Collect is called synchronously on each scrape, so it
// never spawns goroutines or blocks on engine internals beyond the narrow
// Source accessors: the counters are atomic loads, and the table, queue and
// sequence sizes each take a short mutex lock.
type Collector struct {
	src Source

	counterDescs map[string]*prometheus.Desc
	gaugeDescs   map[string]*prometheus.Desc
}

// New builds a Collector reading from src. Pass a const label set (e.g.
// {"node": "1"}) to disambiguate multiple nodes scraped by the same
// Prometheus instance; nil/empty is fine for a single-node deployment.
func New(src Source, constLabels prometheus.Labels) *Collector {
	ns := "aethermesh"
	counterHelp := map[string]string{
		"received_data_packets_total":      "DATA packets received, including forwarded and not-for-me.",
		"sent_packets_total":               "Packets of any type transmitted.",
		"received_hello_packets_total":     "HELLO packets received.",
		"sent_hello_packets_total":         "HELLO packets transmitted.",
		"received_broadcast_packets_total": "Broadcast-addressed packets received.",
		"forwarded_packets_total":          "DATA packets forwarded toward their destination.",
		"data_packets_for_me_total":        "DATA packets addressed to this node.",
		"received_i_am_via_total":          "IAMVIA hints received.",
		"destiny_unreachable_total":        "Sends that failed because no route to the destination was known.",
		"received_not_for_me_total":        "Packets received that were neither for this node nor forwardable.",
		"received_payload_bytes_total":     "Application payload bytes received.",
		"received_control_bytes_total":     "Header/control bytes received.",
		"sent_payload_bytes_total":         "Application payload bytes sent.",
		"sent_control_bytes_total":         "Header/control bytes sent.",
		"duplicates_detected_total":        "Packets discarded as duplicates by the dedupe cache.",
		"triggered_updates_sent_total":     "Out-of-phase HELLOs sent in response to a route change.",
		"updates_suppressed_total":         "Triggered updates suppressed by cooldown/backoff.",
		"send_errors_total":                "Transmit attempts that failed at the radio.",
	}
	counterDescs := make(map[string]*prometheus.Desc, len(counterHelp))
	for name, help := range counterHelp {
		counterDescs[name] = prometheus.NewDesc(ns+"_"+name, help, nil, constLabels)
	}

	gaugeHelp := map[string]string{
		"routing_table_size":  "Number of routes currently known.",
		"send_queue_size":     "Entries queued for transmission.",
		"received_queue_size": "Reassembled application packets awaiting delivery.",
		"outbound_sequences":  "Active outbound reliable-transport sequences (Q_WSP).",
		"inbound_sequences":   "Active inbound reliable-transport sequences (Q_WRP).",
	}
	gaugeDescs := make(map[string]*prometheus.Desc, len(gaugeHelp))
	for name, help := range gaugeHelp {
		gaugeDescs[name] = prometheus.NewDesc(ns+"_"+name, help, nil, constLabels)
	}

	return &Collector{src: src, counterDescs: counterDescs, gaugeDescs: gaugeDescs}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counterDescs {
		ch <- d
	}
	for _, d := range c.gaugeDescs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Counters()

	emit := func(name string, v uint32) {
		ch <- prometheus.MustNewConstMetric(c.counterDescs[name], prometheus.CounterValue, float64(v))
	}
	emit("received_data_packets_total", s.ReceivedDataPackets)
	emit("sent_packets_total", s.SentPackets)
	emit("received_hello_packets_total", s.ReceivedHelloPackets)
	emit("sent_hello_packets_total", s.SentHelloPackets)
	emit("received_broadcast_packets_total", s.ReceivedBroadcastPackets)
	emit("forwarded_packets_total", s.ForwardedPackets)
	emit("data_packets_for_me_total", s.DataPacketForMe)
	emit("received_i_am_via_total", s.ReceivedIAmVia)
	emit("destiny_unreachable_total", s.DestinyUnreachable)
	emit("received_not_for_me_total", s.ReceivedNotForMe)
	emit("received_payload_bytes_total", s.ReceivedPayloadBytes)
	emit("received_control_bytes_total", s.ReceivedControlBytes)
	emit("sent_payload_bytes_total", s.SentPayloadBytes)
	emit("sent_control_bytes_total", s.SentControlBytes)
	emit("duplicates_detected_total", s.DuplicatesDetected)
	emit("triggered_updates_sent_total", s.TriggeredUpdatesSent)
	emit("updates_suppressed_total", s.UpdatesSuppressed)
	emit("send_errors_total", s.SendErrors)

	gauge := func(name string, v int) {
		ch <- prometheus.MustNewConstMetric(c.gaugeDescs[name], prometheus.GaugeValue, float64(v))
	}
	gauge("routing_table_size", c.src.RoutingTableSize())
	gauge("send_queue_size", c.src.SendQueueSize())
	gauge("received_queue_size", c.src.ReceivedQueueSize())
	gauge("outbound_sequences", c.src.OutboundSequences())
	gauge("inbound_sequences", c.src.InboundSequences())
}
