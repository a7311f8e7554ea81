package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Severity 告警级别
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Valid reports whether s is one of the four known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// AlertID is the backend's opaque alert identifier. The detection backend
// emits integer primary keys; the console only ever compares them.
type AlertID string

func (id *AlertID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("alert id is null")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = AlertID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("alert id must be a string or number: %w", err)
	}
	*id = AlertID(n.String())
	return nil
}

func (id AlertID) String() string {
	return string(id)
}

// Alert 检测告警. Everything but Acknowledged is fixed once the backend has
// emitted it.
type Alert struct {
	ID               AlertID   `json:"id" validate:"required"`
	Severity         Severity  `json:"severity" validate:"required,severity"`
	ThreatType       string    `json:"threat_type" validate:"required"`
	Description      string    `json:"description"`
	SourceIP         string    `json:"source_ip" validate:"omitempty,ip"`
	DestIP           string    `json:"dest_ip" validate:"omitempty,ip"`
	SourcePort       *int      `json:"source_port,omitempty"`
	DestPort         *int      `json:"dest_port,omitempty"`
	Protocol         string    `json:"protocol,omitempty"`
	RawPacketSummary string    `json:"raw_packet_summary,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Acknowledged     bool      `json:"acknowledged"`
}

// timestampLayouts are tried in order. The detection backend serialises naive
// UTC datetimes without an offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	var aux struct {
		plain
		Timestamp *string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	decoded := Alert(aux.plain)
	decoded.Timestamp = time.Time{}
	if aux.Timestamp != nil && *aux.Timestamp != "" {
		ts, err := parseTimestamp(*aux.Timestamp)
		if err != nil {
			return err
		}
		decoded.Timestamp = ts
	}
	*a = decoded
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("alert timestamp %q is not ISO 8601", raw)
}

// AttackerCount is one row of the top-attackers ranking.
type AttackerCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// ThreatTypeCount is one row of the per-type breakdown.
type ThreatTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Statistics 统计快照. Always replaced as a whole, never merged.
type Statistics struct {
	TotalAlerts  int64             `json:"total_alerts"`
	TopAttackers []AttackerCount   `json:"top_attackers"`
	AlertsByType []ThreatTypeCount `json:"alerts_by_type"`
}

// Clone returns a deep copy so callers cannot alias the held snapshot.
func (s Statistics) Clone() Statistics {
	out := Statistics{TotalAlerts: s.TotalAlerts}
	if s.TopAttackers != nil {
		out.TopAttackers = append([]AttackerCount(nil), s.TopAttackers...)
	}
	if s.AlertsByType != nil {
		out.AlertsByType = append([]ThreatTypeCount(nil), s.AlertsByType...)
	}
	return out
}

// ConnectionState of the push channel.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Error"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// PushEventNewAlert is the only push frame type the console acts on.
const PushEventNewAlert = "new_alert"

// PushMessage is the envelope of every push-channel frame.
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
