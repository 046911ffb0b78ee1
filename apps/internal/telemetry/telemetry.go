// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package telemetry provides in-process performance measurements around
// token acquisition stages and the server telemetry counters that accompany
// token requests.
//
// A Measurement brackets one named stage of one logical request, keyed by
// the request's correlation ID. Pre-queue/queue timestamps capture the time
// a stage spent waiting before it started; they are bookkeeping only and
// never influence control flow.
package telemetry

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// Event names for measured stages.
const (
	EventSilentCacheClientAcquireToken = "silentCacheClientAcquireToken"
	EventInitializeSilentRequest       = "initializeSilentRequest"
	EventInitializeBaseRequest         = "initializeBaseRequest"
	EventGetClientConfiguration        = "getClientConfiguration"
	EventAcquireCachedToken            = "acquireCachedToken"
)

// API identifiers tag server telemetry with the operation that triggered a
// request. The values match the identifiers used by the other client
// implementations sharing the telemetry schema.
const (
	APIAcquireTokenSilentSilentFlow = 61
)

// Outcome is the write-once result attached to a Measurement when it ends.
// ErrorCode/SubErrorCode are populated only when the failing error carries
// the classified shape.
type Outcome struct {
	Success      bool
	FromCache    bool
	ErrorCode    string
	SubErrorCode string
}

// Record is a completed measurement.
type Record struct {
	Event         string
	CorrelationID string
	Duration      time.Duration
	Outcome       Outcome
}

type queueKey struct {
	event         string
	correlationID string
}

// Client collects measurements. The zero value is not usable; create one
// with New. A single Client is shared by all stages of all requests in a
// process and is safe for concurrent use.
type Client struct {
	now func() time.Time

	mu        sync.Mutex
	preQueue  map[queueKey]time.Time
	queued    map[string][]time.Duration
	completed []Record

	tmMu     sync.Mutex
	managers map[int]*ServerTelemetryManager
}

// New creates a telemetry Client.
func New() *Client {
	return &Client{
		now:      time.Now,
		preQueue: map[queueKey]time.Time{},
		queued:   map[string][]time.Duration{},
		managers: map[int]*ServerTelemetryManager{},
	}
}

// StartMeasurement begins timing the named event for the given correlation
// ID. The returned Measurement must be ended exactly once; End is idempotent
// so a deferred End after an explicit one records nothing extra.
func (c *Client) StartMeasurement(event, correlationID string) *Measurement {
	return &Measurement{
		Event:         event,
		CorrelationID: correlationID,
		client:        c,
		start:         c.now(),
	}
}

// SetPreQueueTime notes that the named event for this correlation ID is
// about to be scheduled. A later AddQueueMeasurement for the same key
// records the elapsed wait.
func (c *Client) SetPreQueueTime(event, correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preQueue[queueKey{event, correlationID}] = c.now()
}

// AddQueueMeasurement records the time between the event's pre-queue mark
// and now. Without a prior SetPreQueueTime for the same key it is a no-op.
func (c *Client) AddQueueMeasurement(event, correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := queueKey{event, correlationID}
	start, ok := c.preQueue[k]
	if !ok {
		return
	}
	delete(c.preQueue, k)
	c.queued[event] = append(c.queued[event], c.now().Sub(start))
}

// QueueMeasurements returns the recorded queue waits for an event, oldest
// first.
func (c *Client) QueueMeasurements(event string) []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.queued[event]...)
}

// Records returns the completed measurements for an event, oldest first.
func (c *Client) Records(event string) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Record
	for _, r := range c.completed {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) record(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, r)
}

// Summary aggregates the durations of an event's completed measurements.
type Summary struct {
	Count  int
	Min    time.Duration
	Median time.Duration
	P95    time.Duration
}

// Summarize computes duration statistics for an event. It returns false when
// no measurement for the event has completed.
func (c *Client) Summarize(event string) (Summary, bool) {
	var samples []float64
	c.mu.Lock()
	for _, r := range c.completed {
		if r.Event == event {
			samples = append(samples, float64(r.Duration))
		}
	}
	c.mu.Unlock()
	if len(samples) == 0 {
		return Summary{}, false
	}
	min, _ := stats.Min(samples)
	median, _ := stats.Median(samples)
	p95, _ := stats.Percentile(samples, 95)
	return Summary{
		Count:  len(samples),
		Min:    time.Duration(min),
		Median: time.Duration(median),
		P95:    time.Duration(p95),
	}, true
}

// ServerTelemetryManager returns the process-wide counter set for an API
// identifier, creating it on first use. Managers are shared: two requests
// tagged with the same API ID increment the same counters.
func (c *Client) ServerTelemetryManager(apiID int) *ServerTelemetryManager {
	c.tmMu.Lock()
	defer c.tmMu.Unlock()
	tm, ok := c.managers[apiID]
	if !ok {
		tm = &ServerTelemetryManager{apiID: apiID}
		c.managers[apiID] = tm
	}
	return tm
}

// Measurement times one stage of one request. End must be called on every
// exit path; calling it more than once records only the first outcome.
type Measurement struct {
	Event         string
	CorrelationID string

	client *Client
	start  time.Time
	once   sync.Once
}

// End finalizes the measurement with the given outcome.
func (m *Measurement) End(o Outcome) {
	m.once.Do(func() {
		m.client.record(Record{
			Event:         m.Event,
			CorrelationID: m.CorrelationID,
			Duration:      m.client.now().Sub(m.start),
			Outcome:       o,
		})
	})
}

// ServerTelemetryManager tracks per-API counters that outlive individual
// requests.
type ServerTelemetryManager struct {
	apiID int

	mu        sync.Mutex
	cacheHits int
}

// APIID returns the API identifier this manager is tagged with.
func (s *ServerTelemetryManager) APIID() int {
	return s.apiID
}

// IncrementCacheHits bumps the cache-hit counter and returns the new value.
func (s *ServerTelemetryManager) IncrementCacheHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits++
	return s.cacheHits
}

// CacheHits returns the current cache-hit count.
func (s *ServerTelemetryManager) CacheHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheHits
}
