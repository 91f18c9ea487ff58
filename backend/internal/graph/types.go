package graph

import "time"

// ============================================================================
// Graph Types
// ============================================================================

// Gender of a user profile
type Gender string

const (
	GenderMale           Gender = "MALE"
	GenderFemale         Gender = "FEMALE"
	GenderNonBinary      Gender = "NON_BINARY"
	GenderOther          Gender = "OTHER"
	GenderPreferNotToSay Gender = "PREFER_NOT_TO_SAY"
)

// ConnectionStatus is the status tag carried by both CONNECTED_TO edges of a pair
type ConnectionStatus string

const (
	StatusPending  ConnectionStatus = "PENDING"
	StatusAccepted ConnectionStatus = "ACCEPTED"
	StatusRejected ConnectionStatus = "REJECTED"
	StatusBlocked  ConnectionStatus = "BLOCKED"
)

// Valid reports whether s is one of the known statuses
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusBlocked:
		return true
	}
	return false
}

// Relationship and label names used in Cypher
const (
	LabelUser      = "User"
	LabelInterest  = "Interest"
	RelConnectedTo = "CONNECTED_TO"
	RelLiked       = "LIKED"
	RelMatched     = "MATCHED"
	RelInterested  = "INTERESTED_IN"
)

// DefaultMaxConnectionDegree applies when a preference record carries no degree limit
const DefaultMaxConnectionDegree = 3

// Interest a user can declare
type Interest struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Preferences drive candidate filtering. Zero age bounds mean "no bound".
type Preferences struct {
	MinAge              int      `json:"min_age,omitempty" yaml:"min_age,omitempty" validate:"gte=0,lte=150"`
	MaxAge              int      `json:"max_age,omitempty" yaml:"max_age,omitempty" validate:"gte=0,lte=150"`
	GenderPreferences   []Gender `json:"gender_preferences" yaml:"gender_preferences,omitempty" validate:"dive,oneof=MALE FEMALE NON_BINARY OTHER PREFER_NOT_TO_SAY"`
	MaxConnectionDegree int      `json:"max_connection_degree" yaml:"max_connection_degree,omitempty" validate:"gte=0"`
	Interests           []string `json:"interests,omitempty" yaml:"interests,omitempty"`
}

// User represents a user node in the graph
type User struct {
	ID                string      `json:"id"`
	Email             string      `json:"email"`
	Name              string      `json:"name"`
	Username          string      `json:"username,omitempty"`
	ProfilePictureURL string      `json:"profile_picture_url,omitempty"`
	Bio               string      `json:"bio,omitempty"`
	Phone             string      `json:"phone,omitempty"`
	Birthdate         time.Time   `json:"birthdate"`
	Gender            Gender      `json:"gender"`
	IsVerified        bool        `json:"is_verified"`
	IsActive          bool        `json:"is_active"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	LastActive        time.Time   `json:"last_active,omitempty"`
	Interests         []Interest  `json:"interests"`
	Preferences       Preferences `json:"preferences"`
}

// UserProfile is the upsert input for a user. The id is derived from Email.
type UserProfile struct {
	Email             string      `json:"email" yaml:"email" validate:"required,email"`
	Name              string      `json:"name" yaml:"name" validate:"max=200"`
	Username          string      `json:"username,omitempty" yaml:"username,omitempty"`
	ProfilePictureURL string      `json:"profile_picture_url,omitempty" yaml:"profile_picture_url,omitempty" validate:"omitempty,url"`
	Bio               string      `json:"bio,omitempty" yaml:"bio,omitempty"`
	Phone             string      `json:"phone,omitempty" yaml:"phone,omitempty"`
	Birthdate         time.Time   `json:"birthdate" yaml:"birthdate"`
	Gender            Gender      `json:"gender" yaml:"gender" validate:"omitempty,oneof=MALE FEMALE NON_BINARY OTHER PREFER_NOT_TO_SAY"`
	IsVerified        bool        `json:"is_verified" yaml:"is_verified"`
	IsActive          bool        `json:"is_active" yaml:"is_active"`
	Interests         []Interest  `json:"interests,omitempty" yaml:"interests,omitempty" validate:"dive"`
	Preferences       Preferences `json:"preferences" yaml:"preferences"`
}

// Connection is the unordered pair view of two CONNECTED_TO edges
type Connection struct {
	ID               string           `json:"id"`
	UserIDA          string           `json:"user_id_a"`
	UserIDB          string           `json:"user_id_b"`
	Status           ConnectionStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ConnectionDegree int              `json:"connection_degree"`
}

// DegreeSource records where a candidate's degree came from
type DegreeSource string

const (
	DegreeFromTraversal DegreeSource = "traversal"
	DegreeResolved      DegreeSource = "resolved"
	DegreeFallback      DegreeSource = "fallback"
	DegreeSelf          DegreeSource = "self"
)

// Candidate is a user reached through the connection graph
type Candidate struct {
	User         User         `json:"user"`
	Degree       int          `json:"degree"`
	DegreeSource DegreeSource `json:"degree_source,omitempty"`
}

// HasDegree reports whether the candidate already carries an exact degree
func (c Candidate) HasDegree() bool {
	return c.DegreeSource != ""
}

// LikeOutcome is what the store observed while recording a like
type LikeOutcome struct {
	// Matched is true when both MATCHED edges exist after the transaction
	Matched bool
	// Created is true when this transaction wrote the MATCHED edges
	Created   bool
	MatchID   string
	MatchedAt time.Time
	LikedAt   time.Time
}

// Interactions lists the ids a user has liked and matched with
type Interactions struct {
	Liked   []string `json:"liked"`
	Matched []string `json:"matched"`
}

// PairResult is one entry of a batch connection upsert
type PairResult struct {
	TargetID   string      `json:"target_id"`
	Connection *Connection `json:"connection,omitempty"`
	Err        error       `json:"-"`
	Error      string      `json:"error,omitempty"`
}

// BatchResult reports each pair of a batch connection upsert individually
type BatchResult struct {
	Results   []PairResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// Connections returns the connections that were written
func (b BatchResult) Connections() []Connection {
	out := make([]Connection, 0, b.Succeeded)
	for _, r := range b.Results {
		if r.Connection != nil {
			out = append(out, *r.Connection)
		}
	}
	return out
}

// ConnectionID builds the pair id "<a>_<b>"
func ConnectionID(idA, idB string) string {
	return idA + "_" + idB
}

// SortedPair returns the two ids in lexical order
func SortedPair(idA, idB string) (string, string) {
	if idB < idA {
		return idB, idA
	}
	return idA, idB
}
