// Package simulator is an in-memory stand-in for the detection backend: the
// same REST and push surface, fed by a synthetic alert generator.
package simulator

import (
	"sort"
	"sync"
	"time"

	"netguard-console/internal/models"
	apperrors "netguard-console/pkg/errors"
)

const (
	statisticsWindow = 24 * time.Hour
	topAttackerLimit = 5
)

// AlertRecord is an alert as the backend stores and serves it, with an
// integer primary key.
type AlertRecord struct {
	ID               int64           `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	SourceIP         string          `json:"source_ip"`
	DestIP           string          `json:"dest_ip"`
	SourcePort       *int            `json:"source_port"`
	DestPort         *int            `json:"dest_port"`
	Protocol         string          `json:"protocol"`
	ThreatType       string          `json:"threat_type"`
	Severity         models.Severity `json:"severity"`
	Description      string          `json:"description"`
	RawPacketSummary string          `json:"raw_packet_summary"`
	Acknowledged     bool            `json:"acknowledged"`
}

// Store holds alert records in insertion order.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	alerts []AlertRecord
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{nextID: 1, now: time.Now}
}

// Create assigns an id (and a timestamp when unset) and stores rec.
func (s *Store) Create(rec AlertRecord) AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	rec.Acknowledged = false
	s.alerts = append(s.alerts, rec)
	return rec
}

// List returns up to limit records after skipping skip, most recent first.
func (s *Store) List(skip, limit int) []AlertRecord {
	s.mu.RLock()
	out := append([]AlertRecord(nil), s.alerts...)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if skip > len(out) {
		skip = len(out)
	}
	out = out[skip:]
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Acknowledge marks the record with id. Unknown ids yield ErrNotFound.
func (s *Store) Acknowledge(id int64) (AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acknowledged = true
			return s.alerts[i], nil
		}
	}
	return AlertRecord{}, apperrors.ErrNotFound
}

// Statistics aggregates alerts of the last 24 hours: total, the five most
// active source addresses, and counts per threat type.
func (s *Store) Statistics() models.Statistics {
	since := s.now().Add(-statisticsWindow)

	s.mu.RLock()
	byIP := make(map[string]int64)
	byType := make(map[string]int64)
	var total int64
	for _, a := range s.alerts {
		if a.Timestamp.Before(since) {
			continue
		}
		total++
		byIP[a.SourceIP]++
		byType[a.ThreatType]++
	}
	s.mu.RUnlock()

	attackers := make([]models.AttackerCount, 0, len(byIP))
	for ip, n := range byIP {
		attackers = append(attackers, models.AttackerCount{IP: ip, Count: n})
	}
	sort.Slice(attackers, func(i, j int) bool {
		if attackers[i].Count != attackers[j].Count {
			return attackers[i].Count > attackers[j].Count
		}
		return attackers[i].IP < attackers[j].IP
	})
	if len(attackers) > topAttackerLimit {
		attackers = attackers[:topAttackerLimit]
	}

	types := make([]models.ThreatTypeCount, 0, len(byType))
	for t, n := range byType {
		types = append(types, models.ThreatTypeCount{Type: t, Count: n})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })

	return models.Statistics{
		TotalAlerts:  total,
		TopAttackers: attackers,
		AlertsByType: types,
	}
}
