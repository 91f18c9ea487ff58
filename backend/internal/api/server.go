// Package api exposes the matching engine over HTTP. Handlers only parse input,
// derive ids from emails and serialize results.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"circl/backend/internal/discovery"
	"circl/backend/internal/graph"
	"circl/backend/internal/identity"
	"circl/backend/internal/matching"
	apperrors "circl/backend/pkg/errors"
	"circl/backend/pkg/logger"
)

// Store is the relationship store surface the handlers use directly
type Store interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, profile graph.UserProfile) (*graph.User, error)
	GetUser(ctx context.Context, userID string) (*graph.User, error)
	UpsertConnection(ctx context.Context, idA, idB string, status graph.ConnectionStatus) (*graph.Connection, error)
	UpsertConnections(ctx context.Context, idA string, targets []string, status graph.ConnectionStatus) graph.BatchResult
	QueryAtDegree(ctx context.Context, userID string, degree int) ([]graph.User, error)
	ShortestPathDegree(ctx context.Context, idA, idB string, maxDegree int) (*int, error)
	ShortestPath(ctx context.Context, idA, idB string, maxDegree int) ([]graph.User, error)
}

// Defaults apply when a request leaves a bound out
type Defaults struct {
	MinDegree       int
	MaxDegree       int
	Limit           int
	MaxSearchDegree int
}

// Server holds the handler dependencies
type Server struct {
	store     Store
	discovery *discovery.Service
	matching  *matching.Service
	defaults  Defaults
	logger    *zap.Logger
}

// NewServer wires the handlers. A nil logger uses the global one.
func NewServer(store Store, disc *discovery.Service, match *matching.Service, defaults Defaults, log *zap.Logger) *Server {
	if log == nil {
		log = logger.Named("api")
	}
	return &Server{store: store, discovery: disc, matching: match, defaults: defaults, logger: log}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.Use(cors())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/users", s.upsertUser)
		api.GET("/users", s.getUser)
		api.POST("/connections", s.upsertConnection)
		api.GET("/degree", s.degree)
		api.GET("/path", s.path)
		api.GET("/matches", s.findMatches)
		api.POST("/matches/like", s.like)
		api.GET("/matches/mutual", s.mutualMatches)
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type upsertUserRequest struct {
	graph.UserProfile
	ConnectTo        []string               `json:"connect_to"`
	ConnectionStatus graph.ConnectionStatus `json:"connection_status"`
}

// upsertUser creates or updates a user and optionally connects it to other users by email
func (s *Server) upsertUser(c *gin.Context) {
	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := s.store.UpsertUser(ctx, req.UserProfile)
	if err != nil {
		s.writeError(c, "upsert_user", err)
		return
	}

	resp := gin.H{"user": user}
	if len(req.ConnectTo) > 0 {
		status := req.ConnectionStatus
		if status == "" {
			status = graph.StatusAccepted
		}
		targets := make([]string, 0, len(req.ConnectTo))
		for _, email := range req.ConnectTo {
			// An empty email becomes an empty id, which the batch reports as its own failure.
			id, _ := identity.Identify(email)
			targets = append(targets, id)
		}
		resp["connections"] = s.store.UpsertConnections(ctx, user.ID, targets, status)
	}
	c.JSON(http.StatusOK, resp)
}

// getUser returns a user, its degree-2 bucket and its default candidates
func (s *Server) getUser(c *gin.Context) {
	userID, ok := s.idFromQuery(c, "email")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.writeError(c, "get_user", err)
		return
	}
	secondDegree, err := s.store.QueryAtDegree(ctx, userID, 2)
	if err != nil {
		s.writeError(c, "query_at_degree", err)
		return
	}
	candidates, err := s.discovery.FindCandidates(ctx, discovery.Query{
		UserID:      userID,
		MinDegree:   s.defaults.MinDegree,
		MaxDegree:   s.defaults.MaxDegree,
		Limit:       s.defaults.Limit,
		Preferences: user.Preferences,
	})
	if err != nil {
		s.writeError(c, "find_candidates", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          user,
		"second_degree": secondDegree,
		"candidates":    candidates,
	})
}

type connectionRequest struct {
	EmailA string                 `json:"email_a" binding:"required"`
	EmailB string                 `json:"email_b" binding:"required"`
	Status graph.ConnectionStatus `json:"status"`
}

func (s *Server) upsertConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = graph.StatusAccepted
	}
	idA, errA := identity.Identify(req.EmailA)
	idB, errB := identity.Identify(req.EmailB)
	if errA != nil || errB != nil {
		s.writeError(c, "upsert_connection", apperrors.NewValidation("email", "must not be empty"))
		return
	}
	if identity.SameUser(req.EmailA, req.EmailB) {
		s.writeError(c, "upsert_connection", apperrors.NewSelfReference("connect", idA))
		return
	}

	conn, err := s.store.UpsertConnection(c.Request.Context(), idA, idB, req.Status)
	if err != nil {
		s.writeError(c, "upsert_connection", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": conn})
}

func (s *Server) degree(c *gin.Context) {
	from, to, maxDegree, ok := s.pairQuery(c)
	if !ok {
		return
	}
	d, err := s.store.ShortestPathDegree(c.Request.Context(), from, to, maxDegree)
	if err != nil {
		s.writeError(c, "shortest_path_degree", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "degree": d, "max_degree": maxDegree})
}

func (s *Server) path(c *gin.Context) {
	from, to, maxDegree, ok := s.pairQuery(c)
	if !ok {
		return
	}
	users, err := s.store.ShortestPath(c.Request.Context(), from, to, maxDegree)
	if err != nil {
		s.writeError(c, "shortest_path", err)
		return
	}
	var d *int
	if users != nil {
		n := len(users) - 1
		d = &n
	}
	c.JSON(http.StatusOK, gin.H{"path": users, "degree": d})
}

// findMatches runs discovery with the stored user's preferences
func (s *Server) findMatches(c *gin.Context) {
	userID, ok := s.idFromQuery(c, "email")
	if !ok {
		return
	}
	minDegree, ok1 := intQuery(c, "min", s.defaults.MinDegree)
	maxDegree, ok2 := intQuery(c, "max", s.defaults.MaxDegree)
	limit, ok3 := intQuery(c, "limit", s.defaults.Limit)
	if !ok1 || !ok2 || !ok3 {
		return
	}
	ctx := c.Request.Context()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.writeError(c, "get_user", err)
		return
	}
	result, err := s.discovery.FindCandidates(ctx, discovery.Query{
		UserID:      userID,
		MinDegree:   minDegree,
		MaxDegree:   maxDegree,
		Limit:       limit,
		Preferences: user.Preferences,
	})
	if err != nil {
		s.writeError(c, "find_candidates", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type likeRequest struct {
	Email       string `json:"email" binding:"required"`
	TargetEmail string `json:"target_email" binding:"required"`
}

func (s *Server) like(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	source, errA := identity.Identify(req.Email)
	target, errB := identity.Identify(req.TargetEmail)
	if errA != nil || errB != nil {
		s.writeError(c, "like", apperrors.NewValidation("email", "must not be empty"))
		return
	}
	if identity.SameUser(req.Email, req.TargetEmail) {
		s.writeError(c, "like", apperrors.NewSelfReference("like", source))
		return
	}

	result, err := s.matching.Like(c.Request.Context(), source, target)
	if err != nil {
		s.writeError(c, "like", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) mutualMatches(c *gin.Context) {
	userID, ok := s.idFromQuery(c, "email")
	if !ok {
		return
	}
	ids, err := s.matching.Matches(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, "matches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "matches": ids})
}

// idFromQuery derives a user id from an email query parameter
func (s *Server) idFromQuery(c *gin.Context, key string) (string, bool) {
	id, err := identity.Identify(c.Query(key))
	if err != nil {
		s.writeError(c, "parse_"+key, apperrors.NewValidation(key, "query parameter is required"))
		return "", false
	}
	return id, true
}

func (s *Server) pairQuery(c *gin.Context) (string, string, int, bool) {
	from, ok := s.idFromQuery(c, "from")
	if !ok {
		return "", "", 0, false
	}
	to, ok := s.idFromQuery(c, "to")
	if !ok {
		return "", "", 0, false
	}
	maxDegree, ok := intQuery(c, "max", s.defaults.MaxSearchDegree)
	if !ok {
		return "", "", 0, false
	}
	return from, to, maxDegree, true
}

func intQuery(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be an integer", "type": string(apperrors.ErrorTypeValidation)})
		return 0, false
	}
	return v, true
}
