package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Statement is one parameterised Cypher query
type Statement struct {
	Cypher string
	Params map[string]any
}

// Runner executes statements atomically. *Client satisfies it.
type Runner interface {
	RunInWrite(ctx context.Context, statements []Statement) error
}

// edge type per dependent record category
var categoryEdges = map[models.RelationshipCategory]string{
	models.CategoryPolicies:     "HOLDS_POLICY",
	models.CategoryAppointments: "HAS_APPOINTMENT",
	models.CategoryClaims:       "FILED_CLAIM",
}

// Projector mirrors merges into the graph: the secondary's record edges move
// to the primary and the secondary gains a MERGED_INTO edge.
type Projector struct {
	runner Runner
	logger ectologger.Logger
}

func NewProjector(runner Runner, logger ectologger.Logger) *Projector {
	return &Projector{
		runner: runner,
		logger: logger,
	}
}

func (p *Projector) ClientsMerged(ctx context.Context, req models.MergeRequest, result models.MergeResult) error {
	statements := MergeStatements(req.AccountID, req.PrimaryID, req.SecondaryID)
	if err := p.runner.RunInWrite(ctx, statements); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id":   req.PrimaryID,
			"secondary_id": req.SecondaryID,
		}).Error("Failed to project merge into graph")
		return fmt.Errorf("failed to project merge into graph: %w", err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":   req.PrimaryID,
		"secondary_id": req.SecondaryID,
	}).Debug("Projected merge into graph")
	return nil
}

// MergeStatements builds the rewiring queries for one merge. Each is
// idempotent, so replaying a merge leaves the graph unchanged.
func MergeStatements(accountID, primaryID, secondaryID string) []Statement {
	params := map[string]any{
		"account_id":   accountID,
		"primary_id":   primaryID,
		"secondary_id": secondaryID,
	}

	statements := []Statement{{
		Cypher: `
		MERGE (p:Client {id: $primary_id, account_id: $account_id})
		MERGE (s:Client {id: $secondary_id, account_id: $account_id})
	`,
		Params: params,
	}}

	for _, category := range models.RelationshipCategories {
		edge := sanitizeLabel(categoryEdges[category])
		statements = append(statements, Statement{
			Cypher: fmt.Sprintf(`
		MATCH (s:Client {id: $secondary_id, account_id: $account_id})-[old:%s]->(x)
		MATCH (p:Client {id: $primary_id, account_id: $account_id})
		MERGE (p)-[:%s]->(x)
		DELETE old
	`, edge, edge),
			Params: params,
		})
	}

	statements = append(statements, Statement{
		Cypher: `
		MATCH (s:Client {id: $secondary_id, account_id: $account_id})
		MATCH (p:Client {id: $primary_id, account_id: $account_id})
		SET s.status = 'retired', s.merged_into = $primary_id
		MERGE (s)-[:MERGED_INTO]->(p)
	`,
		Params: params,
	})
	return statements
}

func sanitizeLabel(label string) string {
	// Only allow alphanumeric and underscore
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "RELATED_TO"
	}
	return result
}
