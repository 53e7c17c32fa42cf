package correlate

import (
	"context"
	"fmt"
	"sort"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// iocBaseScores ranks indicator types by intrinsic weight:
// hash > user ≈ ip > domain > host.
var iocBaseScores = map[ioc.IndicatorType]float64{
	ioc.TypeMD5:      40,
	ioc.TypeSHA1:     40,
	ioc.TypeSHA256:   40,
	ioc.TypeUser:     35,
	ioc.TypeIP:       35,
	ioc.TypeEmail:    32,
	ioc.TypeDomain:   30,
	ioc.TypeHostname: 25,
}

// privateIPPenalty is subtracted for indicators in private address space,
// which are usually lateral noise rather than external infrastructure.
const privateIPPenalty = 15

// IOCDetector correlates alerts that share an extracted indicator,
// weighting the score by indicator type and accumulated ledger confidence.
type IOCDetector struct {
	cfg Config
}

// NewIOCDetector creates the IOC correlation detector.
func NewIOCDetector(cfg Config) *IOCDetector {
	return &IOCDetector{cfg: cfg}
}

// Name identifies the detector in logs.
func (d *IOCDetector) Name() string { return "ioc" }

// Detect groups alerts by shared indicator key. Each group of at least
// cfg.IOCMinAlerts distinct alerts scores
// baseScore(type) + min(30, 5*count) + ledgerConfidence*30, with a penalty
// for private-range IP addresses.
func (d *IOCDetector) Detect(ctx context.Context, alerts []*schema.SecurityAlert, ledger ioc.Ledger) ([]*schema.ThreatCorrelation, error) {
	byIndicator := make(map[string][]*schema.SecurityAlert)
	indicators := make(map[string]ioc.Indicator)

	for _, alert := range alerts {
		for _, ind := range ioc.Extract(alert) {
			if _, err := ledger.Upsert(ctx, ind, alert); err != nil {
				return nil, err
			}
			key := ind.Key()
			if !containsID(byIndicator[key], alert.ID) {
				byIndicator[key] = append(byIndicator[key], alert)
			}
			indicators[key] = ind
		}
	}

	keys := make([]string, 0, len(byIndicator))
	for key := range byIndicator {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []*schema.ThreatCorrelation
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		group := byIndicator[key]
		if len(group) < d.cfg.IOCMinAlerts {
			continue
		}
		ind := indicators[key]

		ledgerConfidence := 0.5
		if rec, ok, err := ledger.Get(ctx, ind); err == nil && ok {
			ledgerConfidence = rec.Confidence
		}

		score := iocBaseScores[ind.Type]
		score += minFloat(30, 5*float64(len(group)))
		score += ledgerConfidence * 30
		if ind.Type == ioc.TypeIP && ioc.IsPrivateIP(ind.Value) {
			score -= privateIPPenalty
		}

		actions := []string{
			fmt.Sprintf("Pivot on indicator %s=%s across all platforms", ind.Type, ind.Value),
			"Submit indicator to threat intelligence enrichment",
		}

		tc := newCorrelation(schema.CategoryIOCMatch, group, score, ledgerConfidence, actions)
		tc.BusinessImpact = fmt.Sprintf("Indicator %s shared by %d alerts", ind.Value, len(group))
		out = append(out, tc)
	}
	return out, nil
}

func containsID(list []*schema.SecurityAlert, id string) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
