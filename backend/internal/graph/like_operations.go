package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "circl/backend/pkg/errors"
)

// ============================================================================
// Like / Match Operations
// ============================================================================

// RecordLike upserts the LIKED edge from sourceID to targetID and, when the reverse like
// exists, writes both MATCHED edges, all in one write transaction. matchID and now are
// used only if this call creates the match.
//
// A pair holding exactly one MATCHED edge, or MATCHED edges without both likes, aborts
// the transaction with a consistency violation.
func (r *Repository) RecordLike(ctx context.Context, sourceID, targetID, matchID string, now time.Time) (LikeOutcome, error) {
	if err := ValidatePair("like", sourceID, targetID); err != nil {
		return LikeOutcome{}, err
	}

	first, second := SortedPair(sourceID, targetID)

	likeQuery := lockPair + `
		WITH first, second
		MATCH (src:User {id: $sourceID}), (tgt:User {id: $targetID})
		MERGE (src)-[l:LIKED]->(tgt)
		SET l.createdAt = datetime($now)
		WITH src, tgt, l
		OPTIONAL MATCH (tgt)-[back:LIKED]->(src)
		OPTIONAL MATCH (src)-[fwd:MATCHED]->(tgt)
		OPTIONAL MATCH (tgt)-[rev:MATCHED]->(src)
		RETURN l.createdAt AS liked_at,
		       back IS NOT NULL AS reciprocal,
		       fwd IS NOT NULL AS forward_match,
		       rev IS NOT NULL AS reverse_match,
		       coalesce(fwd.id, rev.id) AS match_id,
		       coalesce(fwd.createdAt, rev.createdAt) AS matched_at
		LIMIT 1
	`

	matchQuery := `
		MATCH (src:User {id: $sourceID}), (tgt:User {id: $targetID})
		MERGE (src)-[fwd:MATCHED]->(tgt)
		ON CREATE SET fwd.id = $matchID, fwd.createdAt = datetime($now)
		MERGE (tgt)-[rev:MATCHED]->(src)
		ON CREATE SET rev.id = $matchID, rev.createdAt = datetime($now)
		RETURN fwd.id AS match_id, fwd.createdAt AS matched_at
	`

	params := map[string]interface{}{
		"first":    first,
		"second":   second,
		"sourceID": sourceID,
		"targetID": targetID,
		"matchID":  matchID,
		"now":      formatTime(now),
	}

	result, err := r.write(ctx, "record_like", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, likeQuery, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, r.missingEndpoint(ctx, tx, sourceID, targetID)
		}
		record := res.Record()
		outcome := LikeOutcome{LikedAt: getTimeFromRecord(record, "liked_at")}
		reciprocal := getBoolFromRecord(record, "reciprocal")
		forward := getBoolFromRecord(record, "forward_match")
		reverse := getBoolFromRecord(record, "reverse_match")

		switch {
		case forward != reverse:
			return nil, apperrors.NewConsistencyViolation(RelMatched, sourceID, targetID)
		case forward && !reciprocal:
			return nil, apperrors.NewConsistencyViolation(RelLiked, sourceID, targetID)
		case forward:
			outcome.Matched = true
			outcome.MatchID = getStringFromRecord(record, "match_id")
			outcome.MatchedAt = getTimeFromRecord(record, "matched_at")
			return outcome, nil
		case !reciprocal:
			return outcome, nil
		}

		res, err = tx.Run(ctx, matchQuery, params)
		if err != nil {
			return nil, err
		}
		record, err = res.Single(ctx)
		if err != nil {
			return nil, err
		}
		outcome.Matched = true
		outcome.Created = true
		outcome.MatchID = getStringFromRecord(record, "match_id")
		outcome.MatchedAt = getTimeFromRecord(record, "matched_at")
		return outcome, nil
	})
	if err != nil {
		return LikeOutcome{}, err
	}

	outcome := result.(LikeOutcome)
	r.logger.Debug("Like recorded",
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.Bool("matched", outcome.Matched),
		zap.Bool("created", outcome.Created),
	)
	return outcome, nil
}

// InteractedIDs lists the users userID has liked and matched with
func (r *Repository) InteractedIDs(ctx context.Context, userID string) (Interactions, error) {
	if userID == "" {
		return Interactions{}, apperrors.NewValidation("user_id", "must not be empty")
	}

	query := `
		MATCH (u:User {id: $userID})
		RETURN [(u)-[:LIKED]->(o:User) | o.id] AS liked,
		       [(u)-[:MATCHED]->(o:User) | o.id] AS matched
	`

	result, err := r.read(ctx, "interacted_ids", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"userID": userID})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, apperrors.NewUserNotFound(userID)
		}
		props := map[string]interface{}{}
		for _, key := range []string{"liked", "matched"} {
			props[key] = getListFromRecord(res.Record(), key)
		}
		return Interactions{
			Liked:   getStringSliceFromMap(props, "liked"),
			Matched: getStringSliceFromMap(props, "matched"),
		}, nil
	})
	if err != nil {
		return Interactions{}, err
	}
	return result.(Interactions), nil
}
