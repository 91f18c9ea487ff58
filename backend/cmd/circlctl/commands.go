package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"circl/backend/internal/degree"
	"circl/backend/internal/fixture"
	"circl/backend/internal/graph"
	"circl/backend/internal/identity"
	"circl/backend/internal/memstore"
	"circl/backend/pkg/config"
	"circl/backend/pkg/logger"
)

// --- Command flags ---
type flags struct {
	fixturePath string
	from        string
	to          string
	email       string
	maxDegree   int
	minDegree   int
	limit       int
	concurrency int
	dryRun      bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:           "circlctl",
		Short:         "Operate on circl connection graphs",
		Long:          "circlctl seeds a graph store from a YAML fixture and answers degree questions offline.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture into Neo4j (or into memory with --dry-run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	seedCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "apply to an in-memory store and print the summary")
	seedCmd.Flags().IntVar(&f.concurrency, "concurrency", 4, "parallel user upserts")

	degreeCmd := &cobra.Command{
		Use:   "degree",
		Short: "Print the hop distance between two fixture users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDegree(cmd.OutOrStdout(), f)
		},
	}
	degreeCmd.Flags().StringVar(&f.from, "from", "", "source email")
	degreeCmd.Flags().StringVar(&f.to, "to", "", "target email")
	degreeCmd.Flags().IntVar(&f.maxDegree, "max", 0, "search radius in hops, 0 for unbounded")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print one shortest path between two fixture users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPath(cmd.OutOrStdout(), f)
		},
	}
	pathCmd.Flags().StringVar(&f.from, "from", "", "source email")
	pathCmd.Flags().StringVar(&f.to, "to", "", "target email")
	pathCmd.Flags().IntVar(&f.maxDegree, "max", 0, "search radius in hops, 0 for unbounded")

	rangeCmd := &cobra.Command{
		Use:   "range",
		Short: "List fixture users within a degree range of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRange(cmd.OutOrStdout(), f)
		},
	}
	rangeCmd.Flags().StringVar(&f.email, "email", "", "user email")
	rangeCmd.Flags().IntVar(&f.minDegree, "min", 2, "minimum degree")
	rangeCmd.Flags().IntVar(&f.maxDegree, "max", 3, "maximum degree")
	rangeCmd.Flags().IntVar(&f.limit, "limit", 20, "maximum users listed")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the Neo4j constraints and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close(context.Background())
			if err := repo.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Fail when an ACCEPTED connection is missing its reverse edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close(context.Background())
			return runCheck(cmd.Context(), cmd.OutOrStdout(), repo)
		},
	}

	for _, cmd := range []*cobra.Command{seedCmd, degreeCmd, pathCmd, rangeCmd} {
		cmd.Flags().StringVarP(&f.fixturePath, "fixture", "f", "", "YAML fixture path")
		_ = cmd.MarkFlagRequired("fixture")
	}

	rootCmd.AddCommand(seedCmd, degreeCmd, pathCmd, rangeCmd, schemaCmd, checkCmd)
	return rootCmd
}

func runSeed(ctx context.Context, out io.Writer, f *flags) error {
	fx, err := fixture.Load(f.fixturePath)
	if err != nil {
		return err
	}

	var store fixture.Store
	if f.dryRun {
		store = memstore.New(memstore.WithLogger(zap.NewNop()))
	} else {
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close(context.Background())
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		store = repo
	}

	summary, err := fixture.Apply(ctx, store, fx, f.concurrency)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "users=%d connections=%d likes=%d matches=%d\n",
		summary.Users, summary.Connections, summary.Likes, summary.Matches)
	return nil
}

// offline loads a fixture into an adjacency plus an id->label index
func offline(path string) (*degree.Adjacency, map[string]string, error) {
	fx, err := fixture.Load(path)
	if err != nil {
		return nil, nil, err
	}
	conns, err := fx.Edges()
	if err != nil {
		return nil, nil, err
	}
	labels := make(map[string]string, len(fx.Users))
	for _, u := range fx.Users {
		id, err := identity.Identify(u.Email)
		if err != nil {
			return nil, nil, err
		}
		labels[id] = identity.Normalize(u.Email)
	}
	return degree.NewAdjacency(conns), labels, nil
}

func requireEmails(emails ...string) ([]string, error) {
	ids := make([]string, 0, len(emails))
	for _, e := range emails {
		id, err := identity.Identify(e)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runDegree(out io.Writer, f *flags) error {
	adj, _, err := offline(f.fixturePath)
	if err != nil {
		return err
	}
	ids, err := requireEmails(f.from, f.to)
	if err != nil {
		return err
	}

	var d *int
	if f.maxDegree > 0 {
		d, err = degree.BFSDegreeWithin(context.Background(), adj, ids[0], ids[1], f.maxDegree)
		if err != nil {
			return err
		}
	} else {
		d = degree.BFSDegree(adj, ids[0], ids[1])
	}
	if d == nil {
		fmt.Fprintln(out, "no path")
		return nil
	}
	fmt.Fprintln(out, *d)
	return nil
}

func runPath(out io.Writer, f *flags) error {
	adj, labels, err := offline(f.fixturePath)
	if err != nil {
		return err
	}
	ids, err := requireEmails(f.from, f.to)
	if err != nil {
		return err
	}

	var path []string
	if f.maxDegree > 0 {
		path, err = degree.BFSPathWithin(context.Background(), adj, ids[0], ids[1], f.maxDegree)
		if err != nil {
			return err
		}
	} else {
		path = degree.BFSPath(adj, ids[0], ids[1])
	}
	if path == nil {
		fmt.Fprintln(out, "no path")
		return nil
	}
	names := make([]string, 0, len(path))
	for _, id := range path {
		names = append(names, labels[id])
	}
	fmt.Fprintln(out, strings.Join(names, " -> "))
	return nil
}

func runRange(out io.Writer, f *flags) error {
	if err := graph.ValidateDegreeRange(f.minDegree, f.maxDegree); err != nil {
		return err
	}
	adj, labels, err := offline(f.fixturePath)
	if err != nil {
		return err
	}
	ids, err := requireEmails(f.email)
	if err != nil {
		return err
	}
	for _, r := range degree.WithinDegree(adj, ids[0], f.minDegree, f.maxDegree, f.limit) {
		fmt.Fprintf(out, "%d\t%s\n", r.Degree, labels[r.ID])
	}
	return nil
}

// connectionAuditor counts ACCEPTED edges stored in one direction only
type connectionAuditor interface {
	OneWayConnections(ctx context.Context) (int, error)
}

func runCheck(ctx context.Context, out io.Writer, store connectionAuditor) error {
	broken, err := store.OneWayConnections(ctx)
	if err != nil {
		return err
	}
	if broken > 0 {
		logger.Get().Error("One-way connections found", zap.Int("edges", broken))
		return fmt.Errorf("%d one-way %s edges", broken, graph.RelConnectedTo)
	}
	fmt.Fprintln(out, "connections consistent")
	return nil
}

func openRepository(ctx context.Context) (*graph.Repository, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	driver, err := graph.Connect(connectCtx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, err
	}
	return graph.NewRepository(driver, graph.Options{
		Database:     cfg.Neo4jDatabase,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger.Named("graph"),
	}), nil
}
