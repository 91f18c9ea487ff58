package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "circl/backend/pkg/errors"
)

// ============================================================================
// User-to-User Relationship Operations
// ============================================================================

// UpsertConnection writes both directed CONNECTED_TO edges of a pair in one transaction.
// Edges are keyed on the pair, so repeating the call updates status and updatedAt in place.
func (r *Repository) UpsertConnection(ctx context.Context, idA, idB string, status ConnectionStatus) (*Connection, error) {
	if err := ValidatePair("connect", idA, idB); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewValidation("status", fmt.Sprintf("unknown connection status %q", status))
	}

	first, second := SortedPair(idA, idB)

	query := lockPair + `
		WITH first, second
		MATCH (a:User {id: $idA}), (b:User {id: $idB})
		MERGE (a)-[r1:CONNECTED_TO]->(b)
		ON CREATE SET r1.createdAt = datetime($now), r1.connectionDegree = 1
		SET r1.status = $status, r1.updatedAt = datetime($now)
		MERGE (b)-[r2:CONNECTED_TO]->(a)
		ON CREATE SET r2.createdAt = datetime($now), r2.connectionDegree = 1
		SET r2.status = $status, r2.updatedAt = datetime($now)
		RETURN r1.createdAt AS created_at, r1.updatedAt AS updated_at
	`

	params := map[string]interface{}{
		"first":  first,
		"second": second,
		"idA":    idA,
		"idB":    idB,
		"status": string(status),
		"now":    formatTime(r.now()),
	}

	result, err := r.write(ctx, "upsert_connection", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, r.missingEndpoint(ctx, tx, idA, idB)
		}
		record := res.Record()
		return &Connection{
			ID:               ConnectionID(idA, idB),
			UserIDA:          idA,
			UserIDB:          idB,
			Status:           status,
			CreatedAt:        getTimeFromRecord(record, "created_at"),
			UpdatedAt:        getTimeFromRecord(record, "updated_at"),
			ConnectionDegree: 1,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	r.changed(ctx, "upsert_connection")
	r.logger.Info("Connection upserted",
		zap.String("user_a", idA),
		zap.String("user_b", idB),
		zap.String("status", string(status)),
	)
	return result.(*Connection), nil
}

// UpsertConnections connects idA to every target, one transaction per pair.
// A failing pair is reported in its own entry and does not stop the batch.
func (r *Repository) UpsertConnections(ctx context.Context, idA string, targets []string, status ConnectionStatus) BatchResult {
	return UpsertBatch(ctx, idA, targets, status, r.UpsertConnection)
}

// UpsertBatch runs upsert once per target and records every outcome.
// Shared by every store that can upsert a single pair.
func UpsertBatch(
	ctx context.Context,
	idA string,
	targets []string,
	status ConnectionStatus,
	upsert func(ctx context.Context, idA, idB string, status ConnectionStatus) (*Connection, error),
) BatchResult {
	batch := BatchResult{Results: make([]PairResult, 0, len(targets))}
	for _, target := range targets {
		conn, err := upsert(ctx, idA, target, status)
		pr := PairResult{TargetID: target, Connection: conn, Err: err}
		if err != nil {
			pr.Error = err.Error()
			batch.Failed++
		} else {
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, pr)
	}
	return batch
}

// AcceptedConnections returns every ACCEPTED pair once, as an edge-list snapshot
func (r *Repository) AcceptedConnections(ctx context.Context) ([]Connection, error) {
	query := `
		MATCH (a:User)-[r:CONNECTED_TO {status: $status}]->(b:User)
		WHERE a.id < b.id
		RETURN a.id AS a, b.id AS b, r.createdAt AS created_at, r.updatedAt AS updated_at
		ORDER BY a, b
	`

	result, err := r.read(ctx, "accepted_connections", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"status": string(StatusAccepted)})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		conns := make([]Connection, 0, len(records))
		for _, record := range records {
			a := getStringFromRecord(record, "a")
			b := getStringFromRecord(record, "b")
			conns = append(conns, Connection{
				ID:               ConnectionID(a, b),
				UserIDA:          a,
				UserIDB:          b,
				Status:           StatusAccepted,
				CreatedAt:        getTimeFromRecord(record, "created_at"),
				UpdatedAt:        getTimeFromRecord(record, "updated_at"),
				ConnectionDegree: 1,
			})
		}
		return conns, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Connection), nil
}

// OneWayConnections counts ACCEPTED edges whose reverse edge is missing or differs in status.
// A healthy store always returns 0.
func (r *Repository) OneWayConnections(ctx context.Context) (int, error) {
	query := `
		MATCH (a:User)-[r:CONNECTED_TO {status: $status}]->(b:User)
		WHERE NOT (b)-[:CONNECTED_TO {status: $status}]->(a)
		RETURN count(r) AS broken
	`

	result, err := r.read(ctx, "one_way_connections", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"status": string(StatusAccepted)})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		broken, _ := getIntFromRecord(record, "broken")
		return broken, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// lockPair takes write locks on $first and $second in that order. Callers pass the
// pair through SortedPair so concurrent writers on the same pair serialize.
const lockPair = `
		MATCH (first:User {id: $first}), (second:User {id: $second})
		SET first._lock = true, second._lock = true
		REMOVE first._lock, second._lock
`

// missingEndpoint reports which side of a pair does not exist
func (r *Repository) missingEndpoint(ctx context.Context, tx neo4j.ManagedTransaction, idA, idB string) error {
	res, err := tx.Run(ctx, `
		UNWIND $ids AS id
		OPTIONAL MATCH (u:User {id: id})
		WITH id, u WHERE u IS NULL
		RETURN id
		LIMIT 1
	`, map[string]interface{}{"ids": []string{idA, idB}})
	if err != nil {
		return err
	}
	if res.Next(ctx) {
		return apperrors.NewUserNotFound(getStringFromRecord(res.Record(), "id"))
	}
	if err := res.Err(); err != nil {
		return err
	}
	return apperrors.NewUserNotFound(idA)
}
