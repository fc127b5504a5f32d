package telemetry

import (
	"sync/atomic"
	"time"
)

// Metrics counts what a run did. All methods are safe for concurrent use.
type Metrics struct {
	started time.Time

	inputs             atomic.Int64
	records            atomic.Int64
	eventsSent         atomic.Int64
	metadataSent       atomic.Int64
	metadataSuppressed atomic.Int64
	keysDeclared       atomic.Int64
	timelinesOpened    atomic.Int64
	recordsSkipped     atomic.Int64
	bytesRead          atomic.Int64
}

// NewMetrics returns zeroed metrics with the clock started.
func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

// InputDone counts a finished input and its size.
func (m *Metrics) InputDone(bytes int) {
	m.inputs.Add(1)
	m.bytesRead.Add(int64(bytes))
}

func (m *Metrics) RecordRead() { m.records.Add(1) }
func (m *Metrics) EventSent() { m.eventsSent.Add(1) }
func (m *Metrics) MetadataSent(n int) { m.metadataSent.Add(int64(n)) }
func (m *Metrics) MetadataSuppressed(n int) { m.metadataSuppressed.Add(int64(n)) }
func (m *Metrics) KeyDeclared() { m.keysDeclared.Add(1) }
func (m *Metrics) TimelineOpened() { m.timelinesOpened.Add(1) }
func (m *Metrics) RecordSkipped() { m.recordsSkipped.Add(1) }

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Inputs             int64         `json:"inputs"`
	Records            int64         `json:"records"`
	EventsSent         int64         `json:"events_sent"`
	MetadataSent       int64         `json:"metadata_sent"`
	MetadataSuppressed int64         `json:"metadata_suppressed"`
	KeysDeclared       int64         `json:"keys_declared"`
	TimelinesOpened    int64         `json:"timelines_opened"`
	RecordsSkipped     int64         `json:"records_skipped"`
	BytesRead          int64         `json:"bytes_read"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Inputs:             m.inputs.Load(),
		Records:            m.records.Load(),
		EventsSent:         m.eventsSent.Load(),
		MetadataSent:       m.metadataSent.Load(),
		MetadataSuppressed: m.metadataSuppressed.Load(),
		KeysDeclared:       m.keysDeclared.Load(),
		TimelinesOpened:    m.timelinesOpened.Load(),
		RecordsSkipped:     m.recordsSkipped.Load(),
		BytesRead:          m.bytesRead.Load(),
		Elapsed:            time.Since(m.started),
	}
}

// EventsPerSec returns the event throughput.
func (s Snapshot) EventsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.EventsSent) / s.Elapsed.Seconds()
}
