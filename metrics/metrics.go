/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics is the ambient observability surface shared by the
// Client, Lander and Server: queue depth, frames moved by head, bytes
// committed to disk, search latency and connected-peer counts. None of it
// appears on the wire; a nil *Registry anywhere in the broker simply turns
// every recorder into a no-op.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Role labels the three broker positions that share this package.
type Role string

const (
	RoleClient Role = "client"
	RoleLander Role = "lander"
	RoleServer Role = "server"
)

// Direction labels which way a frame crossed the wire.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Registry holds every metric this module exports, all registered against
// a private prometheus.Registry so one process can run several roles
// (e.g. an in-process test harness running Server and Lander together)
// without name collisions on the default global registry.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth     *prometheus.GaugeVec
	FramesTotal    *prometheus.CounterVec
	BytesWritten   *prometheus.CounterVec
	SearchLatency  *prometheus.HistogramVec
	ConnectedPeers *prometheus.GaugeVec
}

// New builds a Registry with namespace as the metric name prefix (e.g.
// "wtlog"). Every metric carries at least a "role" label so Client,
// Lander and Server scrape results can share one process.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of items currently buffered in a broker queue.",
		}, []string{"role", "queue"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Wire frames moved, by head and direction.",
		}, []string{"role", "direction", "head"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disk_bytes_written_total",
			Help:      "Bytes appended to dated on-disk log files.",
		}, []string{"role"}),
		SearchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Time from a search request being issued to its search_fin.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"role", "outcome"}),
		ConnectedPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Live peer connections, by role and peer kind.",
		}, []string{"role", "peer_kind"}),
	}

	reg.MustRegister(r.QueueDepth, r.FramesTotal, r.BytesWritten, r.SearchLatency, r.ConnectedPeers)
	return r
}

// Handler exposes the registry for a Prometheus scrape. The CLI front-ends
// mount this on their own net/http listener; nothing in the broker itself
// depends on HTTP.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetQueueDepth records the current length of a named queue for role.
func (r *Registry) SetQueueDepth(role Role, queue string, depth int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(string(role), queue).Set(float64(depth))
}

// IncFrame counts one wire frame identified by head moving in direction
// for role.
func (r *Registry) IncFrame(role Role, direction Direction, head fmt.Stringer) {
	if r == nil {
		return
	}
	r.FramesTotal.WithLabelValues(string(role), string(direction), head.String()).Inc()
}

// AddBytesWritten accounts n bytes committed to a dated log file by role.
func (r *Registry) AddBytesWritten(role Role, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.BytesWritten.WithLabelValues(string(role)).Add(float64(n))
}

// ObserveSearchLatency records how long a search took to resolve, either
// "matched", "empty" or "timeout".
func (r *Registry) ObserveSearchLatency(role Role, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.SearchLatency.WithLabelValues(string(role), outcome).Observe(d.Seconds())
}

// SetConnectedPeers records how many peerKind connections role currently
// holds open (e.g. Server recording "client" and "lander" counts).
func (r *Registry) SetConnectedPeers(role Role, peerKind string, count int) {
	if r == nil {
		return
	}
	r.ConnectedPeers.WithLabelValues(string(role), peerKind).Set(float64(count))
}
