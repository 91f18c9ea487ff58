// Package degree computes hop distances over an in-memory snapshot of ACCEPTED
// connections. It has no store dependency.
package degree

import (
	"context"

	"circl/backend/internal/graph"
)

// Adjacency is an undirected neighbour list. Neighbours keep first-seen order so
// traversals are deterministic for a given edge list.
type Adjacency struct {
	neighbours map[string][]string
	seen       map[[2]string]struct{}
}

// Reached is a node found by a bounded traversal together with its degree
type Reached struct {
	ID     string
	Degree int
}

// NewAdjacency builds the adjacency of every ACCEPTED connection. Each pair
// contributes both directions; repeated pairs collapse.
func NewAdjacency(conns []graph.Connection) *Adjacency {
	adj := &Adjacency{
		neighbours: make(map[string][]string),
		seen:       make(map[[2]string]struct{}),
	}
	for _, c := range conns {
		if c.Status != graph.StatusAccepted {
			continue
		}
		adj.Add(c.UserIDA, c.UserIDB)
	}
	return adj
}

// Add inserts the undirected edge a-b. Self loops and repeats are ignored.
func (a *Adjacency) Add(idA, idB string) {
	if idA == "" || idB == "" || idA == idB {
		return
	}
	lo, hi := graph.SortedPair(idA, idB)
	key := [2]string{lo, hi}
	if _, ok := a.seen[key]; ok {
		return
	}
	a.seen[key] = struct{}{}
	a.neighbours[idA] = append(a.neighbours[idA], idB)
	a.neighbours[idB] = append(a.neighbours[idB], idA)
}

// Neighbours returns the direct neighbours of id
func (a *Adjacency) Neighbours(id string) []string {
	return a.neighbours[id]
}

// Edges returns the number of undirected edges
func (a *Adjacency) Edges() int {
	return len(a.seen)
}

// BFSDegree returns the hop distance from source to target, 0 when they are the
// same node and nil when target is unreachable.
func BFSDegree(adj *Adjacency, source, target string) *int {
	d, _ := BFSDegreeContext(context.Background(), adj, source, target)
	return d
}

// BFSDegreeContext is BFSDegree that stops with ctx.Err() once ctx is done
func BFSDegreeContext(ctx context.Context, adj *Adjacency, source, target string) (*int, error) {
	return distance(ctx, adj, source, target, 0)
}

// BFSDegreeWithin is BFSDegreeContext with the search radius capped at maxDegree hops.
// A target further away than maxDegree reports nil.
func BFSDegreeWithin(ctx context.Context, adj *Adjacency, source, target string, maxDegree int) (*int, error) {
	if source != target && maxDegree < 1 {
		return nil, nil
	}
	return distance(ctx, adj, source, target, maxDegree)
}

func distance(ctx context.Context, adj *Adjacency, source, target string, maxDepth int) (*int, error) {
	if source == target {
		zero := 0
		return &zero, nil
	}
	prev, depth, err := search(ctx, adj, source, target, maxDepth)
	if err != nil {
		return nil, err
	}
	if _, ok := prev[target]; !ok {
		return nil, nil
	}
	d := depth[target]
	return &d, nil
}

// BFSPath returns one shortest path from source to target, both included. Ties go
// to the first discovered predecessor. Nil when target is unreachable.
func BFSPath(adj *Adjacency, source, target string) []string {
	path, _ := shortestPath(context.Background(), adj, source, target, 0)
	return path
}

// BFSPathWithin is BFSPath that expands at most maxDegree levels and stops with
// ctx.Err() once ctx is done. A target further away than maxDegree reports nil.
func BFSPathWithin(ctx context.Context, adj *Adjacency, source, target string, maxDegree int) ([]string, error) {
	if source != target && maxDegree < 1 {
		return nil, nil
	}
	return shortestPath(ctx, adj, source, target, maxDegree)
}

func shortestPath(ctx context.Context, adj *Adjacency, source, target string, maxDepth int) ([]string, error) {
	if source == target {
		return []string{source}, nil
	}
	prev, _, err := search(ctx, adj, source, target, maxDepth)
	if err != nil {
		return nil, err
	}
	if _, ok := prev[target]; !ok {
		return nil, nil
	}

	var path []string
	for at := target; at != ""; at = prev[at] {
		path = append(path, at)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// WithinDegree returns up to limit nodes whose distance from source lies in
// [minDegree, maxDegree], ordered by degree then discovery order. The traversal
// stops expanding at maxDegree. A limit below 1 means no limit.
func WithinDegree(adj *Adjacency, source string, minDegree, maxDegree, limit int) []Reached {
	_, depth, order := levels(adj, source, maxDegree)
	reached := []Reached{}
	for _, id := range order {
		d := depth[id]
		if d < minDegree || d == 0 {
			continue
		}
		reached = append(reached, Reached{ID: id, Degree: d})
		if limit > 0 && len(reached) == limit {
			break
		}
	}
	return reached
}

// AtDegree returns the nodes at exactly degree hops from source, in discovery order
func AtDegree(adj *Adjacency, source string, degree int) []string {
	if degree < 1 {
		return nil
	}
	ids := []string{}
	for _, r := range WithinDegree(adj, source, degree, degree, 0) {
		ids = append(ids, r.ID)
	}
	return ids
}

// search runs BFS from source until target is visited. maxDepth of 0 is unbounded.
// prev maps every visited node to its predecessor; source maps to "".
func search(ctx context.Context, adj *Adjacency, source, target string, maxDepth int) (map[string]string, map[string]int, error) {
	prev := map[string]string{source: ""}
	depth := map[string]int{source: 0}
	queue := []string{source}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		current := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && depth[current] == maxDepth {
			continue
		}
		for _, next := range adj.Neighbours(current) {
			if _, visited := prev[next]; visited {
				continue
			}
			prev[next] = current
			depth[next] = depth[current] + 1
			if next == target {
				return prev, depth, nil
			}
			queue = append(queue, next)
		}
	}
	return prev, depth, nil
}

// levels visits every node within maxDepth of source and returns them in BFS order,
// which is also ascending depth order.
func levels(adj *Adjacency, source string, maxDepth int) (map[string]string, map[string]int, []string) {
	prev := map[string]string{source: ""}
	depth := map[string]int{source: 0}
	order := []string{source}

	for i := 0; i < len(order); i++ {
		current := order[i]
		if depth[current] == maxDepth {
			continue
		}
		for _, next := range adj.Neighbours(current) {
			if _, visited := prev[next]; visited {
				continue
			}
			prev[next] = current
			depth[next] = depth[current] + 1
			order = append(order, next)
		}
	}
	return prev, depth, order
}
