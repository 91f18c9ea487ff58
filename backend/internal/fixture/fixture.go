// Package fixture loads hand-written YAML graphs into a relationship store.
package fixture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"circl/backend/internal/graph"
	"circl/backend/internal/identity"
)

// Fixture is a small graph keyed by email
type Fixture struct {
	Users       []graph.UserProfile `yaml:"users"`
	Connections []Connection        `yaml:"connections"`
	Likes       []Like              `yaml:"likes"`
}

// Connection between two emails. Status defaults to ACCEPTED.
type Connection struct {
	A      string                 `yaml:"a"`
	B      string                 `yaml:"b"`
	Status graph.ConnectionStatus `yaml:"status,omitempty"`
}

// Like from one email to another
type Like struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Store is what a fixture is written into
type Store interface {
	UpsertUser(ctx context.Context, profile graph.UserProfile) (*graph.User, error)
	UpsertConnection(ctx context.Context, idA, idB string, status graph.ConnectionStatus) (*graph.Connection, error)
	RecordLike(ctx context.Context, sourceID, targetID, matchID string, now time.Time) (graph.LikeOutcome, error)
}

// Summary counts what Apply wrote
type Summary struct {
	Users       int
	Connections int
	Likes       int
	Matches     int
}

// Load reads and parses a fixture file
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture and checks that every edge names a declared user
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	declared := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		declared[identity.Normalize(u.Email)] = true
	}
	check := func(kind, email string) error {
		if !declared[identity.Normalize(email)] {
			return fmt.Errorf("%s references undeclared user %q", kind, email)
		}
		return nil
	}
	for i, c := range f.Connections {
		if err := check("connection", c.A); err != nil {
			return nil, err
		}
		if err := check("connection", c.B); err != nil {
			return nil, err
		}
		if c.Status == "" {
			f.Connections[i].Status = graph.StatusAccepted
		}
	}
	for _, l := range f.Likes {
		if err := check("like", l.From); err != nil {
			return nil, err
		}
		if err := check("like", l.To); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Edges returns the connections as id pairs, for in-memory degree tooling
func (f *Fixture) Edges() ([]graph.Connection, error) {
	conns := make([]graph.Connection, 0, len(f.Connections))
	for _, c := range f.Connections {
		a, err := identity.Identify(c.A)
		if err != nil {
			return nil, err
		}
		b, err := identity.Identify(c.B)
		if err != nil {
			return nil, err
		}
		conns = append(conns, graph.Connection{ID: graph.ConnectionID(a, b), UserIDA: a, UserIDB: b, Status: c.Status, ConnectionDegree: 1})
	}
	return conns, nil
}

// Apply writes users concurrently, then connections and likes in file order.
// concurrency below 1 means one user at a time.
func Apply(ctx context.Context, store Store, f *Fixture, concurrency int) (Summary, error) {
	var summary Summary
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, profile := range f.Users {
		g.Go(func() error {
			if _, err := store.UpsertUser(gctx, profile); err != nil {
				return fmt.Errorf("user %s: %w", profile.Email, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	summary.Users = len(f.Users)

	for _, c := range f.Connections {
		a, _ := identity.Identify(c.A)
		b, _ := identity.Identify(c.B)
		if _, err := store.UpsertConnection(ctx, a, b, c.Status); err != nil {
			return summary, fmt.Errorf("connection %s-%s: %w", c.A, c.B, err)
		}
		summary.Connections++
	}

	for _, l := range f.Likes {
		from, _ := identity.Identify(l.From)
		to, _ := identity.Identify(l.To)
		outcome, err := store.RecordLike(ctx, from, to, uuid.New().String(), time.Now())
		if err != nil {
			return summary, fmt.Errorf("like %s->%s: %w", l.From, l.To, err)
		}
		summary.Likes++
		if outcome.Created {
			summary.Matches++
		}
	}
	return summary, nil
}
