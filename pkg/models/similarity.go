package models

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ConfidenceTier buckets a similarity score
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// Rank orders tiers, high first.
func (t ConfidenceTier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

// Reason tags attached to a similarity result, in scoring order
const (
	ReasonTaxID         = "identical tax ID"
	ReasonEmail         = "identical email"
	ReasonPhone         = "identical phone"
	ReasonSimilarPhone  = "similar number"
	ReasonVerySimilarNm = "very similar name"
	ReasonSimilarName   = "similar name"
	ReasonBirthDate     = "identical birth date"
)

// SimilarityResult is the score of one client pair. Never persisted.
type SimilarityResult struct {
	ClientAID string         `json:"client_a_id" yaml:"client_a_id"`
	ClientBID string         `json:"client_b_id" yaml:"client_b_id"`
	Score     float64        `json:"score" yaml:"score"`
	Points    int            `json:"points" yaml:"points"`
	MaxPoints int            `json:"max_points" yaml:"max_points"`
	Tier      ConfidenceTier `json:"tier" yaml:"tier"`
	Reasons   []string       `json:"reasons" yaml:"reasons"`
}

// DuplicateGroup is a cluster of clients suspected to be the same entity. Never persisted.
type DuplicateGroup struct {
	ID      string             `json:"id" yaml:"id"`
	Clients []Client           `json:"clients" yaml:"clients"`
	Best    SimilarityResult   `json:"best" yaml:"best"`
	Pairs   []SimilarityResult `json:"pairs" yaml:"pairs"`
}

var groupNamespace = uuid.MustParse("6f1c2a4e-9b7d-4c3e-8a51-2d0e7f93b6c1")

// GroupID derives a stable id from the member ids regardless of their order.
func GroupID(clientIDs []string) string {
	ids := append([]string(nil), clientIDs...)
	sort.Strings(ids)
	return uuid.NewSHA1(groupNamespace, []byte(strings.Join(ids, "|"))).String()
}

// MemberIDs returns the ids of the group members in group order.
func (g DuplicateGroup) MemberIDs() []string {
	ids := make([]string, len(g.Clients))
	for i, c := range g.Clients {
		ids[i] = c.ID
	}
	return ids
}

func (g DuplicateGroup) Contains(clientID string) bool {
	for _, c := range g.Clients {
		if c.ID == clientID {
			return true
		}
	}
	return false
}
