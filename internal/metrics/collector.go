/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics exposes CPX transport and streamer counters as a
// single prometheus.Collector.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements prometheus.Collector and transport.Sink (by
// structural typing — transport never imports this package, breaking
// the cycle noted in DESIGN.md). All counters are lock-free atomics;
// Collect snapshots them without pausing the hot path.
type Collector struct {
	reliableReconnects  uint64
	reliableBytesSent   uint64
	reliableBytesRecv   uint64
	datagramSent        uint64
	datagramReceived    uint64
	datagramDrops       uint64
	streamerImageEmits  uint64
	streamerReplyEmits  uint64
	streamerCRCFailures uint64

	reconnectsDesc  *prometheus.Desc
	bytesSentDesc   *prometheus.Desc
	bytesRecvDesc   *prometheus.Desc
	datagramSentD   *prometheus.Desc
	datagramRecvD   *prometheus.Desc
	datagramDropD   *prometheus.Desc
	buffersDesc     *prometheus.Desc
	crcFailuresDesc *prometheus.Desc
}

// New builds a Collector. constLabels are attached to every emitted
// metric (e.g. a remote host:port identifying which link is being
// observed), the way NewTCPInfoCollector's constLabels parameter does.
func New(constLabels prometheus.Labels) *Collector {
	return &Collector{
		reconnectsDesc: prometheus.NewDesc(
			"cpx_reliable_reconnects_total",
			"Number of times the reliable transport has (re)connected.",
			nil, constLabels),
		bytesSentDesc: prometheus.NewDesc(
			"cpx_reliable_bytes_sent_total",
			"Bytes written to the reliable transport socket.",
			nil, constLabels),
		bytesRecvDesc: prometheus.NewDesc(
			"cpx_reliable_bytes_received_total",
			"Bytes read from the reliable transport socket.",
			nil, constLabels),
		datagramSentD: prometheus.NewDesc(
			"cpx_datagram_sent_total",
			"Datagrams written to the unreliable transport socket.",
			nil, constLabels),
		datagramRecvD: prometheus.NewDesc(
			"cpx_datagram_received_total",
			"Datagrams accepted from the unreliable transport socket.",
			nil, constLabels),
		datagramDropD: prometheus.NewDesc(
			"cpx_datagram_drops_total",
			"Datagrams discarded for being out of sequence.",
			nil, constLabels),
		buffersDesc: prometheus.NewDesc(
			"cpx_streamer_buffers_emitted_total",
			"Streamer buffers by type: image buffers reassembled and validated, inference reply buffers sent.",
			[]string{"type"}, constLabels),
		crcFailuresDesc: prometheus.NewDesc(
			"cpx_streamer_crc_failures_total",
			"Streamer buffers discarded for a CRC-32 mismatch.",
			nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.reconnectsDesc
	descs <- c.bytesSentDesc
	descs <- c.bytesRecvDesc
	descs <- c.datagramSentD
	descs <- c.datagramRecvD
	descs <- c.datagramDropD
	descs <- c.buffersDesc
	descs <- c.crcFailuresDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(c.reconnectsDesc, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.reliableReconnects)))
	metrics <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.reliableBytesSent)))
	metrics <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.reliableBytesRecv)))
	metrics <- prometheus.MustNewConstMetric(c.datagramSentD, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.datagramSent)))
	metrics <- prometheus.MustNewConstMetric(c.datagramRecvD, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.datagramReceived)))
	metrics <- prometheus.MustNewConstMetric(c.datagramDropD, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.datagramDrops)))
	metrics <- prometheus.MustNewConstMetric(c.buffersDesc, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.streamerImageEmits)), "image")
	metrics <- prometheus.MustNewConstMetric(c.buffersDesc, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.streamerReplyEmits)), "inference")
	metrics <- prometheus.MustNewConstMetric(c.crcFailuresDesc, prometheus.CounterValue,
		float64(atomic.LoadUint64(&c.streamerCRCFailures)))
}

// IncReliableReconnect implements transport.Sink.
func (c *Collector) IncReliableReconnect() { atomic.AddUint64(&c.reliableReconnects, 1) }

// AddReliableBytesSent implements transport.Sink.
func (c *Collector) AddReliableBytesSent(n int) { atomic.AddUint64(&c.reliableBytesSent, uint64(n)) }

// AddReliableBytesReceived implements transport.Sink.
func (c *Collector) AddReliableBytesReceived(n int) {
	atomic.AddUint64(&c.reliableBytesRecv, uint64(n))
}

// IncDatagramSent implements transport.Sink.
func (c *Collector) IncDatagramSent() { atomic.AddUint64(&c.datagramSent, 1) }

// IncDatagramReceived implements transport.Sink.
func (c *Collector) IncDatagramReceived() { atomic.AddUint64(&c.datagramReceived, 1) }

// IncDatagramDrop implements transport.Sink.
func (c *Collector) IncDatagramDrop() { atomic.AddUint64(&c.datagramDrops, 1) }

// IncStreamerImageEmitted records one successfully reassembled image buffer.
func (c *Collector) IncStreamerImageEmitted() { atomic.AddUint64(&c.streamerImageEmits, 1) }

// IncStreamerReplyEmitted records one reply buffer handed to the client
// for sending.
func (c *Collector) IncStreamerReplyEmitted() { atomic.AddUint64(&c.streamerReplyEmits, 1) }

// IncStreamerCRCFailure records one discarded buffer due to CRC mismatch.
func (c *Collector) IncStreamerCRCFailure() { atomic.AddUint64(&c.streamerCRCFailures, 1) }
