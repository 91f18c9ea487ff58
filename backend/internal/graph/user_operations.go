package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"circl/backend/internal/identity"
	apperrors "circl/backend/pkg/errors"
)

// ============================================================================
// User Operations
// ============================================================================

// userProjection returns the properties and interests of the node bound to v
func userProjection(v string) string {
	return fmt.Sprintf("%[1]s{.*} AS user, [(%[1]s)-[:INTERESTED_IN]->(i:Interest) | i{.id, .name, .category}] AS interests", v)
}

// UpsertUser creates the user node keyed by the derived id, or updates its mutable fields.
// MERGE on the id keeps concurrent calls for the same email from creating duplicates.
func (r *Repository) UpsertUser(ctx context.Context, profile UserProfile) (*User, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	userID, err := identity.Identify(profile.Email)
	if err != nil {
		return nil, err
	}
	if profile.Gender == "" {
		profile.Gender = GenderPreferNotToSay
	}
	maxDegree := profile.Preferences.MaxConnectionDegree
	if maxDegree == 0 {
		maxDegree = DefaultMaxConnectionDegree
	}

	interests := make([]map[string]interface{}, 0, len(profile.Interests))
	for _, in := range profile.Interests {
		interests = append(interests, map[string]interface{}{
			"id":       in.ID,
			"name":     in.Name,
			"category": in.Category,
		})
	}

	query := `
		MERGE (u:User {id: $userID})
		ON CREATE SET
			u.email = $email,
			u.createdAt = datetime($now)
		SET u.name = $name,
			u.username = $username,
			u.profilePictureUrl = $profilePictureUrl,
			u.bio = $bio,
			u.gender = $gender,
			u.phone = $phone,
			u.isVerified = $isVerified,
			u.isActive = $isActive,
			u.birthdate = coalesce($birthdate, u.birthdate),
			u.prefMinAge = $prefMinAge,
			u.prefMaxAge = $prefMaxAge,
			u.prefGenders = $prefGenders,
			u.prefMaxDegree = $prefMaxDegree,
			u.prefInterests = $prefInterests,
			u.updatedAt = datetime($now),
			u.lastActive = datetime($now)
		WITH u
		OPTIONAL MATCH (u)-[old:INTERESTED_IN]->(:Interest)
		DELETE old
		WITH DISTINCT u
		FOREACH (interest IN $interests |
			MERGE (i:Interest {id: interest.id})
			ON CREATE SET i.name = interest.name, i.category = interest.category
			MERGE (u)-[:INTERESTED_IN]->(i)
		)
		WITH u
		RETURN ` + userProjection("u")

	params := map[string]interface{}{
		"userID":            userID,
		"email":             identity.Normalize(profile.Email),
		"name":              profile.Name,
		"username":          emptyToNil(profile.Username),
		"profilePictureUrl": emptyToNil(profile.ProfilePictureURL),
		"bio":               emptyToNil(profile.Bio),
		"gender":            string(profile.Gender),
		"phone":             emptyToNil(profile.Phone),
		"isVerified":        profile.IsVerified,
		"isActive":          profile.IsActive,
		"birthdate":         formatBirthdate(profile.Birthdate),
		"prefMinAge":        profile.Preferences.MinAge,
		"prefMaxAge":        profile.Preferences.MaxAge,
		"prefGenders":       gendersToStrings(profile.Preferences.GenderPreferences),
		"prefMaxDegree":     maxDegree,
		"prefInterests":     nonNilStrings(profile.Preferences.Interests),
		"interests":         interests,
		"now":               formatTime(r.now()),
	}

	result, err := r.write(ctx, "upsert_user", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read upserted user: %w", err)
		}
		u := userFromRecord(record, "user", "interests")
		return &u, nil
	})
	if err != nil {
		return nil, err
	}

	r.changed(ctx, "upsert_user")
	r.logger.Debug("User upserted", zap.String("user_id", userID))
	return result.(*User), nil
}

// GetUser loads a user by id
func (r *Repository) GetUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}

	query := `
		MATCH (u:User {id: $userID})
		RETURN ` + userProjection("u")

	result, err := r.read(ctx, "get_user", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
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
		u := userFromRecord(res.Record(), "user", "interests")
		return &u, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*User), nil
}

// GetUserByEmail loads a user by email through its derived id
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	userID, err := identity.Identify(email)
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, userID)
}

// EnsureSchema creates the constraints and indexes the queries rely on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE",
		"CREATE CONSTRAINT interest_id_unique IF NOT EXISTS FOR (i:Interest) REQUIRE i.id IS UNIQUE",
		"CREATE INDEX user_email IF NOT EXISTS FOR (u:User) ON (u.email)",
	}

	for _, stmt := range statements {
		if _, err := r.write(ctx, "ensure_schema", func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		}); err != nil {
			return err
		}
		r.logger.Debug("Schema statement applied", zap.String("statement", stmt))
	}
	return nil
}
