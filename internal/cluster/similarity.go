package cluster

import (
	"context"

	"threatlens/internal/ioc"
	"threatlens/internal/schema"
)

// similarity feature weights
const (
	weightTitle       = 0.30
	weightDescription = 0.20
	weightRuleName    = 0.25
	weightPlatform    = 0.10
	weightSeverity    = 0.10
	weightTags        = 0.05
)

// similarityTextCap bounds the text fed to the ratio computation so a
// pathological description cannot blow up the quadratic matcher.
const similarityTextCap = 256

// SimilarityStrategy groups alerts by weighted field similarity using a
// greedy single pass: each unclustered alert seeds a cluster and absorbs
// every other unclustered alert whose combined similarity reaches the
// threshold. Pairwise comparison makes this O(n²) per batch, which is
// acceptable for correlation-window sized batches but not for unbounded
// streams.
type SimilarityStrategy struct {
	cfg Config
}

// NewSimilarityStrategy creates the similarity clustering strategy.
func NewSimilarityStrategy(cfg Config) *SimilarityStrategy {
	return &SimilarityStrategy{cfg: cfg}
}

// Name returns the strategy tag.
func (s *SimilarityStrategy) Name() schema.ClusterStrategy {
	return schema.StrategySimilarity
}

// Cluster runs the greedy grouping pass.
func (s *SimilarityStrategy) Cluster(ctx context.Context, alerts []*schema.SecurityAlert, _ ioc.Ledger) ([]*schema.AlertCluster, error) {
	processed := make([]bool, len(alerts))
	var clusters []*schema.AlertCluster

	for i := range alerts {
		if processed[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		group := []*schema.SecurityAlert{alerts[i]}
		var scoreSum float64

		for j := range alerts {
			if i == j || processed[j] {
				continue
			}
			score := alertSimilarity(alerts[i], alerts[j])
			if score >= s.cfg.SimilarityThreshold {
				group = append(group, alerts[j])
				scoreSum += score
				processed[j] = true
			}
		}
		processed[i] = true

		if len(group) < 2 {
			continue
		}

		meanScore := scoreSum / float64(len(group)-1)
		clusters = append(clusters, newCluster(s.cfg, schema.StrategySimilarity, group, meanScore, nil))
	}

	return clusters, nil
}

// alertSimilarity computes the weighted similarity of two alerts in [0,1].
func alertSimilarity(a, b *schema.SecurityAlert) float64 {
	score := weightTitle * textSimilarity(a.Title, b.Title)
	score += weightDescription * textSimilarity(a.Description, b.Description)
	score += weightRuleName * textSimilarity(a.RuleName, b.RuleName)

	if a.Platform == b.Platform {
		score += weightPlatform
	}

	sevDist := int(a.Severity) - int(b.Severity)
	if sevDist < 0 {
		sevDist = -sevDist
	}
	score += weightSeverity * (1.0 - float64(sevDist)/4.0)

	score += weightTags * tagJaccard(a.Tags, b.Tags)
	return score
}

// textSimilarity is a normalized sequence-match ratio in [0,1]:
// 2*LCS(a,b) / (len(a)+len(b)) over lowercased runes, with inputs capped
// at similarityTextCap runes.
func textSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	ra := capRunes(a)
	rb := capRunes(b)

	// LCS over two rows of the DP table.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(rb)]
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}

func capRunes(s string) []rune {
	r := []rune(toLowerASCII(s))
	if len(r) > similarityTextCap {
		r = r[:similarityTextCap]
	}
	return r
}

func toLowerASCII(s string) string {
	out := []byte(s)
	for i := 0; i < len(out); i++ {
		if out[i] >= 'A' && out[i] <= 'Z' {
			out[i] += 'a' - 'A'
		}
	}
	return string(out)
}

// tagJaccard computes the Jaccard overlap of two tag sets.
func tagJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	for t := range setA {
		union[t] = true
	}
	intersection := 0
	for _, t := range b {
		if setA[t] {
			intersection++
		}
		union[t] = true
	}
	if len(union) == 0 {
		return 0.0
	}
	return float64(intersection) / float64(len(union))
}
