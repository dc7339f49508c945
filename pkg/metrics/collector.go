package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PluginStats is implemented by the plugin host; it reports how many
// plugins currently sit in each lifecycle state.
type PluginStats interface {
	PluginCountsByState() map[string]int
}

// BusStats is implemented by the message bus; it reports current
// per-worker-queue depth.
type BusStats interface {
	QueueDepths() map[string]int
}

// RaftStats is implemented by the consensus engine.
type RaftStats interface {
	IsLeader() bool
	CurrentTerm() uint64
	CommitIndex() uint64
	LastApplied() uint64
}

// PoolStats is implemented by the storage pool.
type PoolStats interface {
	TierObjectCounts() map[string]int64
	TierByteTotals() map[string]int64
}

// Collector polls the other engines on a fixed interval and republishes
// their internal counters as Prometheus gauges. Engines that record
// their own counters and histograms inline (bus dispatch outcome and
// latency, ACL decisions, plugin handshake time) don't go through the
// collector; this is only for point-in-time state a poll can observe
// cheaply.
type Collector struct {
	plugins   PluginStats
	bus       BusStats
	raft      RaftStats
	pool      PoolStats
	startTime time.Time
	stopCh    chan struct{}
}

// NewCollector builds a collector over whichever engines are available.
// Any argument may be nil; that engine's metrics (and its contribution to
// Health/Readiness) are simply skipped.
func NewCollector(plugins PluginStats, bus BusStats, raft RaftStats, pool PoolStats) *Collector {
	return &Collector{
		plugins:   plugins,
		bus:       bus,
		raft:      raft,
		pool:      pool,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPluginMetrics()
	c.collectBusMetrics()
	c.collectRaftMetrics()
	c.collectPoolMetrics()
}

func (c *Collector) collectPluginMetrics() {
	if c.plugins == nil {
		return
	}
	for state, count := range c.plugins.PluginCountsByState() {
		PluginsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectBusMetrics() {
	if c.bus == nil {
		return
	}
	for queue, depth := range c.bus.QueueDepths() {
		BusQueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}
	if c.raft.IsLeader() {
		RaftIsLeader.Set(1)
	} else {
		RaftIsLeader.Set(0)
	}
	RaftCurrentTerm.Set(float64(c.raft.CurrentTerm()))
	RaftCommitIndex.Set(float64(c.raft.CommitIndex()))
	RaftLastApplied.Set(float64(c.raft.LastApplied()))
}

func (c *Collector) collectPoolMetrics() {
	if c.pool == nil {
		return
	}
	for tier, count := range c.pool.TierObjectCounts() {
		PoolObjectsTotal.WithLabelValues(tier).Set(float64(count))
	}
	for tier, bytes := range c.pool.TierByteTotals() {
		PoolBytesTotal.WithLabelValues(tier).Set(float64(bytes))
	}
}

// componentStatus is one engine's contribution to a Health/Readiness
// report, derived from the live stats interface the collector already
// holds rather than from a name any caller could register under.
type componentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the JSON body served by the health/readiness endpoints.
type Report struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
	Uptime     string            `json:"uptime"`
}

func (c *Collector) componentStatuses() []componentStatus {
	statuses := make([]componentStatus, 0, 4)
	if c.raft != nil {
		statuses = append(statuses, componentStatus{
			Name:    "raft",
			Healthy: true,
			Detail:  fmt.Sprintf("term=%d leader=%v commit=%d applied=%d", c.raft.CurrentTerm(), c.raft.IsLeader(), c.raft.CommitIndex(), c.raft.LastApplied()),
		})
	}
	if c.bus != nil {
		statuses = append(statuses, componentStatus{
			Name:    "bus",
			Healthy: true,
			Detail:  fmt.Sprintf("queues=%d", len(c.bus.QueueDepths())),
		})
	}
	if c.pool != nil {
		statuses = append(statuses, componentStatus{
			Name:    "storagepool",
			Healthy: true,
			Detail:  fmt.Sprintf("tiers=%d", len(c.pool.TierObjectCounts())),
		})
	}
	if c.plugins != nil {
		statuses = append(statuses, componentStatus{
			Name:    "plugins",
			Healthy: true,
			Detail:  fmt.Sprintf("states=%d", len(c.plugins.PluginCountsByState())),
		})
	}
	return statuses
}

// Health reports every wired engine the collector can observe. There is
// no "unhealthy but present" state today — an engine that has stopped
// responding stops being constructible, not merely marked down — so
// Health is really "which engines are wired", which is still useful for
// catching a node that came up with a component missing.
func (c *Collector) Health() Report {
	return c.report(c.componentStatuses())
}

// criticalComponents are the engines without which the node cannot serve
// its core contract: consensus, dispatch, and storage.
var criticalComponents = map[string]bool{"raft": true, "bus": true, "storagepool": true}

// Readiness is Health narrowed to the components a load balancer should
// gate traffic on; a node with a plugin host but no raft engine reports
// healthy-but-not-ready.
func (c *Collector) Readiness() Report {
	all := c.componentStatuses()
	critical := make([]componentStatus, 0, len(criticalComponents))
	seen := make(map[string]bool, len(criticalComponents))
	for _, s := range all {
		if criticalComponents[s.Name] {
			critical = append(critical, s)
			seen[s.Name] = true
		}
	}
	for name := range criticalComponents {
		if !seen[name] {
			critical = append(critical, componentStatus{Name: name, Healthy: false, Detail: "not wired"})
		}
	}
	return c.report(critical)
}

func (c *Collector) report(statuses []componentStatus) Report {
	status := "ok"
	for _, s := range statuses {
		if !s.Healthy {
			status = "unhealthy"
			break
		}
	}
	return Report{Status: status, Components: statuses, Uptime: time.Since(c.startTime).String()}
}

// HealthHandler serves every wired engine's status; it always returns
// 200 once the collector has been constructed, since a missing engine
// shows up as an absent or unhealthy entry rather than a failed request.
func (c *Collector) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, c.Health())
	}
}

// ReadinessHandler serves 503 while any critical engine (raft, bus,
// storagepool) is unwired, so orchestrators hold traffic until the node
// has actually finished constructing its core dependencies.
func (c *Collector) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Readiness()
		w.Header().Set("Content-Type", "application/json")
		if report.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler reports only that the process is scheduling goroutines
// and the collector's start time, independent of any engine's state.
func (c *Collector) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(c.startTime).String(),
		})
	}
}

func writeReport(w http.ResponseWriter, report Report) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
