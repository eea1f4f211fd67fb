// Package grouping partitions a client collection into groups of probable duplicates.
package grouping

import (
	"fmt"
	"sort"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Strategy selects how candidate pairs become groups
type Strategy string

const (
	// StrategyGreedy lets the first unclaimed client anchor a group of every
	// unclaimed client that clears the floor. Order dependent.
	StrategyGreedy Strategy = "greedy"
	// StrategyComponents groups connected components of the above-floor graph.
	StrategyComponents Strategy = "components"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyGreedy:
		return StrategyGreedy, nil
	case StrategyComponents:
		return StrategyComponents, nil
	}
	return "", fmt.Errorf("unknown grouping strategy %q", s)
}

// Inclusion floors by tier
const (
	floorHigh   = 60.0
	floorMedium = 40.0
	floorLow    = 30.0
)

// ClearsFloor reports whether a pair is similar enough to share a group.
func ClearsFloor(r models.SimilarityResult) bool {
	switch r.Tier {
	case models.TierHigh:
		return r.Score >= floorHigh
	case models.TierMedium:
		return r.Score >= floorMedium
	default:
		return r.Score >= floorLow
	}
}

// Engine groups clients. It holds no state between calls.
type Engine struct {
	scorer   *matching.Scorer
	strategy Strategy
}

func NewEngine(scorer *matching.Scorer, strategy Strategy) *Engine {
	if scorer == nil {
		scorer = matching.NewScorer(nil)
	}
	if strategy == "" {
		strategy = StrategyGreedy
	}
	return &Engine{scorer: scorer, strategy: strategy}
}

func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// pass is the scratch state of one grouping run, discarded afterwards.
type pass struct {
	scorer     *matching.Scorer
	clients    []models.Client
	normalized []normalizers.NormalizedClient
	scores     map[[2]int]models.SimilarityResult
}

func (p *pass) score(i, j int) models.SimilarityResult {
	key := [2]int{i, j}
	if j < i {
		key = [2]int{j, i}
	}
	if r, ok := p.scores[key]; ok {
		return r
	}
	r := p.scorer.ScoreNormalized(p.normalized[i], p.normalized[j])
	p.scores[key] = r
	return r
}

// Group returns the duplicate groups among the active clients, strongest first.
// Retired clients are never grouped. Each client appears in at most one group.
func (e *Engine) Group(clients []models.Client) []models.DuplicateGroup {
	active := ectolinq.Filter(clients, func(c models.Client) bool {
		return !c.IsRetired()
	})

	norm := e.scorer.Normalizer()
	p := &pass{
		scorer:     e.scorer,
		clients:    active,
		normalized: ectolinq.Map(active, norm.Normalize),
		scores:     make(map[[2]int]models.SimilarityResult),
	}

	var memberSets [][]int
	switch e.strategy {
	case StrategyComponents:
		memberSets = p.components()
	default:
		memberSets = p.greedy()
	}

	groups := ectolinq.Map(memberSets, p.buildGroup)
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Best, groups[j].Best
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() > b.Tier.Rank()
		}
		return a.Score > b.Score
	})
	return groups
}

func (p *pass) greedy() [][]int {
	claimed := make(map[int]bool, len(p.clients))
	var sets [][]int

	for anchor := range p.clients {
		if claimed[anchor] {
			continue
		}
		members := []int{anchor}
		for other := range p.clients {
			if other == anchor || claimed[other] {
				continue
			}
			if ClearsFloor(p.score(anchor, other)) {
				members = append(members, other)
			}
		}
		if len(members) < 2 {
			continue
		}
		for _, m := range members {
			claimed[m] = true
		}
		sets = append(sets, members)
	}
	return sets
}

func (p *pass) components() [][]int {
	parent := make([]int, len(p.clients))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	linked := make(map[int]bool)
	for i := range p.clients {
		for j := i + 1; j < len(p.clients); j++ {
			if !ClearsFloor(p.score(i, j)) {
				continue
			}
			linked[i], linked[j] = true, true
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			// lower index stays root so groups list members in input order
			if ri < rj {
				parent[rj] = ri
			} else {
				parent[ri] = rj
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for i := range p.clients {
		if !linked[i] {
			continue
		}
		root := find(i)
		if _, ok := byRoot[root]; !ok {
			roots = append(roots, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}

	return ectolinq.Map(roots, func(root int) []int { return byRoot[root] })
}

func (p *pass) buildGroup(members []int) models.DuplicateGroup {
	group := models.DuplicateGroup{
		Clients: make([]models.Client, 0, len(members)),
	}
	for _, m := range members {
		group.Clients = append(group.Clients, p.clients[m])
	}

	for x := 0; x < len(members); x++ {
		for y := x + 1; y < len(members); y++ {
			r := p.score(members[x], members[y])
			group.Pairs = append(group.Pairs, r)
			if len(group.Pairs) == 1 || better(r, group.Best) {
				group.Best = r
			}
		}
	}

	group.ID = models.GroupID(group.MemberIDs())
	return group
}

func better(a, b models.SimilarityResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Tier.Rank() > b.Tier.Rank()
}
