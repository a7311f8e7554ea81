package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"netguard-console/internal/logging"
	"netguard-console/internal/models"

	"github.com/google/uuid"
)

type signature struct {
	threatType string
	severity   models.Severity
	protocol   string
	destPort   int
	describe   func(src string) string
}

var signatures = []signature{
	{
		threatType: "Nmap Xmas Scan",
		severity:   models.SeverityHigh,
		protocol:   "TCP",
		describe:   func(string) string { return "TCP packet with FIN, PSH, URG flags detected" },
	},
	{
		threatType: "SSH Brute Force",
		severity:   models.SeverityCritical,
		protocol:   "TCP",
		destPort:   22,
		describe:   func(src string) string { return fmt.Sprintf("More than 5 SSH attempts in 60s from %s", src) },
	},
	{
		threatType: "Port Scan",
		severity:   models.SeverityHigh,
		protocol:   "TCP",
		describe:   func(src string) string { return fmt.Sprintf("Source %s scanned 20+ ports", src) },
	},
	{
		threatType: "ICMP Flood",
		severity:   models.SeverityMedium,
		protocol:   "ICMP",
		describe:   func(src string) string { return fmt.Sprintf("More than 100 ICMP requests in 10s from %s", src) },
	},
}

// Generator emits synthetic signature detections.
type Generator struct {
	rng       *rand.Rand
	attackers []string
	targets   []string
}

// NewGenerator returns a generator seeded with seed. A small attacker pool
// keeps the top-attackers ranking meaningful.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:       rand.New(rand.NewSource(seed)),
		attackers: []string{"203.0.113.7", "198.51.100.23", "192.0.2.44", "203.0.113.90", "198.51.100.5", "192.0.2.201", "45.33.32.156"},
		targets:   []string{"10.0.0.5", "10.0.0.12", "10.0.1.20"},
	}
}

// Next builds one detection record; the store assigns its id.
func (g *Generator) Next() AlertRecord {
	sig := signatures[g.rng.Intn(len(signatures))]
	src := g.attackers[g.rng.Intn(len(g.attackers))]
	dst := g.targets[g.rng.Intn(len(g.targets))]

	rec := AlertRecord{
		SourceIP:         src,
		DestIP:           dst,
		Protocol:         sig.protocol,
		ThreatType:       sig.threatType,
		Severity:         sig.severity,
		Description:      sig.describe(src),
		RawPacketSummary: fmt.Sprintf("%s %s > %s pkt=%s", sig.protocol, src, dst, uuid.NewString()[:8]),
	}
	if sig.protocol == "TCP" {
		srcPort := 1024 + g.rng.Intn(64000)
		dstPort := sig.destPort
		if dstPort == 0 {
			dstPort = 1 + g.rng.Intn(1024)
		}
		rec.SourcePort = &srcPort
		rec.DestPort = &dstPort
	}
	return rec
}

// Run publishes one generated alert per interval until ctx is done.
func (g *Generator) Run(ctx context.Context, interval time.Duration, publish func(AlertRecord)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := g.Next()
			publish(rec)
			logging.Debug().Str("threat_type", rec.ThreatType).Str("source_ip", rec.SourceIP).Msg("generated alert")
		}
	}
}
