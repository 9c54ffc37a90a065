package models

import (
	"encoding/json"
	"time"
)

// ScanState is the process-wide record that survives restarts.
// Counters only ever grow.
type ScanState struct {
	Running          bool              `json:"running"`
	LastScan         time.Time         `json:"last_scan_timestamp"`
	AlertsGenerated  int64             `json:"alerts_generated"`
	TradesExecuted   int64             `json:"trades_executed"`
	ActivePositions  []json.RawMessage `json:"active_positions"`
	PendingAlerts    []AlertSummary    `json:"pending_alerts"`
	ScansCompleted   int64             `json:"scans_completed"`
	LastScanDuration time.Duration     `json:"last_scan_duration"`
}

// NewScanState returns the zero state used when nothing is on disk.
func NewScanState() *ScanState {
	return &ScanState{
		ActivePositions: []json.RawMessage{},
		PendingAlerts:   []AlertSummary{},
	}
}

// Enqueue appends a summary to the pending queue, dropping the oldest entries
// once the queue holds limit items. It returns how many entries were dropped.
func (s *ScanState) Enqueue(summary AlertSummary, limit int) int {
	s.PendingAlerts = append(s.PendingAlerts, summary)
	s.AlertsGenerated++
	if limit <= 0 || len(s.PendingAlerts) <= limit {
		return 0
	}
	dropped := len(s.PendingAlerts) - limit
	s.PendingAlerts = append([]AlertSummary(nil), s.PendingAlerts[dropped:]...)
	return dropped
}

// Clone returns a deep enough copy for read-only publication.
func (s *ScanState) Clone() *ScanState {
	c := *s
	c.ActivePositions = append([]json.RawMessage(nil), s.ActivePositions...)
	c.PendingAlerts = append([]AlertSummary(nil), s.PendingAlerts...)
	return &c
}
