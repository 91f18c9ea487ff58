package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "circl/backend/pkg/errors"
)

// ============================================================================
// Degree Search Operations
// ============================================================================

// QueryAtDegree returns users whose shortest ACCEPTED distance from userID is exactly degree.
// Buckets are disjoint: a user reachable at a shorter degree never appears.
func (r *Repository) QueryAtDegree(ctx context.Context, userID string, degree int) ([]User, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if degree < 1 {
		return nil, apperrors.NewValidation("degree", fmt.Sprintf("must be a positive integer, got %d", degree))
	}

	query := `
		MATCH path = (start:User {id: $userID})-[:CONNECTED_TO` + hopRange(1, degree) + `]->(other:User)
		WHERE other.id <> start.id
		  AND all(rel IN relationships(path) WHERE rel.status = $status)
		WITH other, min(length(path)) AS degree
		WHERE degree = $degree
		RETURN ` + userProjection("other") + `
		ORDER BY other.id
	`

	params := map[string]interface{}{
		"userID": userID,
		"degree": degree,
		"status": string(StatusAccepted),
	}

	result, err := r.read(ctx, "query_at_degree", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		users := []User{}
		for res.Next(ctx) {
			users = append(users, userFromRecord(res.Record(), "user", "interests"))
		}
		return users, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]User), nil
}

// QueryDegreeRange returns up to limit users whose shortest ACCEPTED distance lies in
// [minDegree, maxDegree], ordered by degree then id. Each candidate carries its degree.
func (r *Repository) QueryDegreeRange(ctx context.Context, userID string, minDegree, maxDegree, limit int) ([]Candidate, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if err := ValidateDegreeRange(minDegree, maxDegree); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, apperrors.NewValidation("limit", fmt.Sprintf("must be positive, got %d", limit))
	}

	// The min bound filters on the shortest distance, not on path length, so a
	// neighbour reachable by a longer detour is still excluded when min > 1.
	query := `
		MATCH path = (start:User {id: $userID})-[:CONNECTED_TO` + hopRange(1, maxDegree) + `]->(other:User)
		WHERE other.id <> start.id
		  AND all(rel IN relationships(path) WHERE rel.status = $status)
		WITH other, min(length(path)) AS degree
		WHERE degree >= $minDegree
		RETURN ` + userProjection("other") + `, degree
		ORDER BY degree, other.id
		LIMIT $limit
	`

	params := map[string]interface{}{
		"userID":    userID,
		"minDegree": minDegree,
		"limit":     limit,
		"status":    string(StatusAccepted),
	}

	result, err := r.read(ctx, "query_degree_range", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		candidates := []Candidate{}
		for res.Next(ctx) {
			record := res.Record()
			degree, _ := getIntFromRecord(record, "degree")
			candidates = append(candidates, Candidate{
				User:         userFromRecord(record, "user", "interests"),
				Degree:       degree,
				DegreeSource: DegreeFromTraversal,
			})
		}
		return candidates, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]Candidate), nil
}

// ShortestPathDegree returns the length of the shortest ACCEPTED path of at most maxDegree
// hops, or nil when there is none. Equal ids return 0 without touching the store.
func (r *Repository) ShortestPathDegree(ctx context.Context, idA, idB string, maxDegree int) (*int, error) {
	if idA == "" || idB == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if idA == idB {
		zero := 0
		return &zero, nil
	}
	if maxDegree < 1 {
		return nil, apperrors.NewValidation("max_degree", fmt.Sprintf("must be a positive integer, got %d", maxDegree))
	}

	query := `
		MATCH (a:User {id: $idA}), (b:User {id: $idB})
		MATCH path = shortestPath((a)-[:CONNECTED_TO` + hopRange(1, maxDegree) + `]->(b))
		WHERE all(rel IN relationships(path) WHERE rel.status = $status)
		RETURN length(path) AS degree
	`

	params := map[string]interface{}{
		"idA":    idA,
		"idB":    idB,
		"status": string(StatusAccepted),
	}

	result, err := r.read(ctx, "shortest_path_degree", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		degree, ok := getIntFromRecord(res.Record(), "degree")
		if !ok {
			return nil, nil
		}
		return &degree, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*int), nil
}

// ShortestPath returns the users along one shortest ACCEPTED path from idA to idB, both
// endpoints included. Nil when no path exists within maxDegree.
func (r *Repository) ShortestPath(ctx context.Context, idA, idB string, maxDegree int) ([]User, error) {
	if idA == "" || idB == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if idA == idB {
		u, err := r.GetUser(ctx, idA)
		if err != nil {
			return nil, err
		}
		return []User{*u}, nil
	}
	if maxDegree < 1 {
		return nil, apperrors.NewValidation("max_degree", fmt.Sprintf("must be a positive integer, got %d", maxDegree))
	}

	query := `
		MATCH (a:User {id: $idA}), (b:User {id: $idB})
		MATCH path = shortestPath((a)-[:CONNECTED_TO` + hopRange(1, maxDegree) + `]->(b))
		WHERE all(rel IN relationships(path) WHERE rel.status = $status)
		RETURN [n IN nodes(path) | n{.*}] AS nodes
	`

	params := map[string]interface{}{
		"idA":    idA,
		"idB":    idB,
		"status": string(StatusAccepted),
	}

	result, err := r.read(ctx, "shortest_path", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return []User(nil), res.Err()
		}
		nodes := getListFromRecord(res.Record(), "nodes")
		users := make([]User, 0, len(nodes))
		for _, n := range nodes {
			if props, ok := n.(map[string]interface{}); ok {
				users = append(users, userFromProps(props, nil))
			}
		}
		return users, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]User), nil
}
