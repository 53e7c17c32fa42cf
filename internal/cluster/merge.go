package cluster

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/schema"
)

// unionFind is a union-by-size disjoint set over element indices.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// GroupOverlapping partitions the given alert-id sets into connected
// components under the "shares an alert" relation, returning the member
// indices of each component. Indices appear in input order inside each
// component, and components are ordered by their smallest member.
func GroupOverlapping(idSets [][]string) [][]int {
	uf := newUnionFind(len(idSets))
	owner := make(map[string]int)

	for i, ids := range idSets {
		for _, id := range ids {
			if j, ok := owner[id]; ok {
				uf.union(i, j)
			} else {
				owner[id] = i
			}
		}
	}

	members := make(map[int][]int)
	for i := range idSets {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	roots := make([]int, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		return members[roots[i]][0] < members[roots[j]][0]
	})

	out := make([][]int, 0, len(roots))
	for _, root := range roots {
		out = append(out, members[root])
	}
	return out
}

// mergedActionsCap bounds the action list of a merged cluster.
const mergedActionsCap = 8

// Merge unions clusters whose alert membership overlaps, producing a
// non-overlapping cluster set. Groups of size 1 pass through unchanged;
// larger groups collapse into a single merged cluster whose alert set is
// the deduplicated union, primary is the highest-severity alert, priority
// is the maximum of the constituents, and similarity is their mean. No
// alert is ever dropped: the union of output alert ids equals the union of
// input alert ids.
func Merge(clusters []*schema.AlertCluster) []*schema.AlertCluster {
	if len(clusters) <= 1 {
		return clusters
	}

	idSets := make([][]string, len(clusters))
	for i, c := range clusters {
		idSets[i] = c.AlertIDs()
	}

	var out []*schema.AlertCluster
	for _, component := range GroupOverlapping(idSets) {
		if len(component) == 1 {
			out = append(out, clusters[component[0]])
			continue
		}
		group := make([]*schema.AlertCluster, len(component))
		for i, idx := range component {
			group[i] = clusters[idx]
		}
		out = append(out, mergeGroup(group))
	}
	return out
}

// mergeGroup collapses overlapping clusters into one.
func mergeGroup(group []*schema.AlertCluster) *schema.AlertCluster {
	seen := make(map[string]bool)
	var alerts []*schema.SecurityAlert
	maxPriority := schema.PriorityNoise
	var similaritySum float64
	mergedContext := make(map[string]any)
	var actions []string
	actionSeen := make(map[string]bool)
	autoEscalated := false

	for _, c := range group {
		for _, a := range c.Alerts() {
			if !seen[a.ID] {
				seen[a.ID] = true
				alerts = append(alerts, a)
			}
		}
		if c.Priority > maxPriority {
			maxPriority = c.Priority
		}
		similaritySum += c.SimilarityScore
		for k, v := range c.BusinessContext {
			mergedContext[k] = v
		}
		for _, action := range c.RecommendedActions {
			if !actionSeen[action] {
				actionSeen[action] = true
				actions = append(actions, action)
			}
		}
		if c.AutoEscalated {
			autoEscalated = true
		}
	}

	if len(actions) > mergedActionsCap {
		actions = actions[:mergedActionsCap]
	}

	primary := alerts[0]
	for _, a := range alerts[1:] {
		if a.Severity > primary.Severity {
			primary = a
		}
	}
	related := make([]*schema.SecurityAlert, 0, len(alerts)-1)
	for _, a := range alerts {
		if a != primary {
			related = append(related, a)
		}
	}

	return &schema.AlertCluster{
		ID:              uuid.New(),
		PrimaryAlert:    primary,
		RelatedAlerts:   related,
		Strategy:        schema.StrategyMerged,
		SimilarityScore: similaritySum / float64(len(group)),
		Priority:        maxPriority,
		BusinessContext: mergedContext,
		Summary: fmt.Sprintf("Merged cluster: %d alerts from %d source clusters",
			len(alerts), len(group)),
		RecommendedActions: actions,
		AutoEscalated:      autoEscalated,
		CreatedAt:          time.Now().UTC(),
	}
}
