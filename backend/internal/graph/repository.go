package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"circl/backend/internal/metrics"
	apperrors "circl/backend/pkg/errors"
	"circl/backend/pkg/logger"
)

// DefaultQueryTimeout bounds a store call when Options.QueryTimeout is unset
const DefaultQueryTimeout = 5 * time.Second

// ChangeHook runs after a committed write that can move degrees or profiles
type ChangeHook func(ctx context.Context) error

// Options configures a Repository
type Options struct {
	Database     string
	QueryTimeout time.Duration
	Logger       *zap.Logger
	// OnChange is optional
	OnChange ChangeHook
}

// Repository handles all Neo4j database operations for the matching engine.
// Every operation runs in a managed transaction on its own session.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
	onChange ChangeHook
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, opts Options) *Repository {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("graph")
	}
	return &Repository{
		driver:   driver,
		database: opts.Database,
		timeout:  opts.QueryTimeout,
		logger:   opts.Logger,
		now:      time.Now,
		onChange: opts.OnChange,
	}
}

// Connect creates a driver for uri and verifies connectivity
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	return driver, nil
}

// changed runs the change hook. A failing hook is logged, the write stands.
func (r *Repository) changed(ctx context.Context, operation string) {
	if r.onChange == nil {
		return
	}
	if err := r.onChange(ctx); err != nil {
		r.logger.Warn("Change hook failed", zap.String("operation", operation), zap.Error(err))
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Ping verifies the store is reachable within the query timeout
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.driver.VerifyConnectivity(ctx); err != nil {
		return r.classify(ctx, "ping", err)
	}
	return nil
}

// txWork is a unit of transactional work. ctx carries the operation deadline.
type txWork func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error)

func (r *Repository) read(ctx context.Context, operation string, work txWork) (interface{}, error) {
	return r.execute(ctx, operation, neo4j.AccessModeRead, work)
}

func (r *Repository) write(ctx context.Context, operation string, work txWork) (interface{}, error) {
	return r.execute(ctx, operation, neo4j.AccessModeWrite, work)
}

// execute runs work in a managed transaction bounded by the query timeout.
// The session is closed on every exit path, with a context that outlives the deadline.
func (r *Repository) execute(ctx context.Context, operation string, mode neo4j.AccessMode, work txWork) (result interface{}, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(operation, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
	defer func() {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			r.logger.Warn("Failed to close session", zap.String("operation", operation), zap.Error(cerr))
		}
	}()

	managed := func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return work(ctx, tx)
	}
	if mode == neo4j.AccessModeWrite {
		result, err = session.ExecuteWrite(ctx, managed, neo4j.WithTxTimeout(r.timeout))
	} else {
		result, err = session.ExecuteRead(ctx, managed, neo4j.WithTxTimeout(r.timeout))
	}
	if err != nil {
		err = r.classify(ctx, operation, err)
		if !apperrors.IsNotFound(err) && !apperrors.IsValidation(err) {
			r.logger.Error("Graph operation failed",
				zap.String("operation", operation),
				zap.Bool("retryable", apperrors.IsRetryable(err)),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return result, nil
}

// classify maps driver and context errors onto the error taxonomy
func (r *Repository) classify(ctx context.Context, operation string, err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewContextTimeout(operation, r.timeout, err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewContextCancelled(operation, err)
	default:
		return apperrors.NewGraphQueryFailed(operation, neo4j.IsRetryable(err), err)
	}
}

// hopRange renders a validated variable-length bound. Cypher cannot parameterize hop counts.
func hopRange(minHops, maxHops int) string {
	return fmt.Sprintf("*%d..%d", minHops, maxHops)
}
