package correlate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// GeoDetector groups alerts whose source addresses resolve to the same
// coarse location. The Geolocator capability is injected; when a lookup
// fails, that alert simply contributes nothing.
type GeoDetector struct {
	cfg Config
	geo Geolocator
}

// NewGeoDetector creates the geographic coordination detector.
func NewGeoDetector(cfg Config, geo Geolocator) *GeoDetector {
	return &GeoDetector{cfg: cfg, geo: geo}
}

// Name identifies the detector in logs.
func (d *GeoDetector) Name() string { return "geographic" }

// Detect groups alerts by (country, region). Groups of at least
// cfg.GeoMinAlerts score
// 50 + 30*(high-risk country) + min(20, 3*count) + 15*(span <= GeoTightSpan)
// and are emitted only when the score reaches cfg.GeoScoreThreshold.
func (d *GeoDetector) Detect(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.ThreatCorrelation, error) {
	if d.geo == nil {
		return nil, nil
	}

	type location struct{ country, region string }
	groups := make(map[location][]*schema.SecurityAlert)

	for _, alert := range alerts {
		if alert.SourceIP == "" {
			continue
		}
		country, region, ok := d.geo.Geolocate(alert.SourceIP)
		if !ok {
			continue
		}
		groups[location{country, region}] = append(groups[location{country, region}], alert)
	}

	locations := make([]location, 0, len(groups))
	for loc := range groups {
		locations = append(locations, loc)
	}
	sort.Slice(locations, func(i, j int) bool {
		if locations[i].country != locations[j].country {
			return locations[i].country < locations[j].country
		}
		return locations[i].region < locations[j].region
	})

	highRisk := make(map[string]bool, len(d.cfg.HighRiskCountries))
	for _, c := range d.cfg.HighRiskCountries {
		highRisk[c] = true
	}

	var out []*schema.ThreatCorrelation
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		group := groups[loc]
		if len(group) < d.cfg.GeoMinAlerts {
			continue
		}

		score := 50.0
		if highRisk[loc.country] {
			score += 30
		}
		score += minFloat(20, 3*float64(len(group)))
		if timeSpan(group) <= d.cfg.GeoTightSpan {
			score += 15
		}
		if score < d.cfg.GeoScoreThreshold {
			continue
		}

		actions := []string{
			fmt.Sprintf("Review coordinated activity from %s/%s", loc.country, loc.region),
			"Consider geo-blocking or step-up authentication for the region",
		}

		tc := newCorrelation(schema.CategoryGeographic, group, score, 0.6, actions)
		tc.BusinessImpact = fmt.Sprintf("%d alerts originate from %s/%s", len(group), loc.country, loc.region)
		out = append(out, tc)
	}
	return out, nil
}

func timeSpan(alerts []*schema.SecurityAlert) time.Duration {
	if len(alerts) == 0 {
		return 0
	}
	earliest, latest := alerts[0].Timestamp, alerts[0].Timestamp
	for _, a := range alerts[1:] {
		if a.Timestamp.Before(earliest) {
			earliest = a.Timestamp
		}
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
	}
	return latest.Sub(earliest)
}
