package api

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/tessera-io/tessera/pkg/auditrun"
	"github.com/tessera-io/tessera/pkg/auth"
	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/gitsync"
	"github.com/tessera-io/tessera/pkg/ingest"
	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

// Server bundles the handlers over the service layer.
type Server struct {
	svc      *service.Services
	runs     *auditrun.Service
	pipeline *ingest.Pipeline
	syncer   *gitsync.Syncer // nil when git sync is not configured
	authn    *auth.Authenticator
	store    store.Store
	metrics  *observability.Metrics
	limiter  auth.Limiter // nil disables rate limiting
	cors     auth.CORSConfig
	log      *slog.Logger
	started  time.Time
}

// Deps carries the collaborators; Syncer, Metrics and Limiter are optional.
type Deps struct {
	Services      *service.Services
	AuditRuns     *auditrun.Service
	Pipeline      *ingest.Pipeline
	Syncer        *gitsync.Syncer
	Authenticator *auth.Authenticator
	Store         store.Store
	Metrics       *observability.Metrics
	Limiter       auth.Limiter
	CORS          auth.CORSConfig
	Logger        *slog.Logger
}

// NewServer builds the HTTP layer and installs the error-envelope writers
// the auth middlewares render rejections with.
func NewServer(d Deps) *Server {
	s := &Server{
		svc:      d.Services,
		runs:     d.AuditRuns,
		pipeline: d.Pipeline,
		syncer:   d.Syncer,
		authn:    d.Authenticator,
		store:    d.Store,
		metrics:  d.Metrics,
		limiter:  d.Limiter,
		cors:     d.CORS,
		log:      d.Logger,
		started:  time.Now(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	auth.SetUnauthorizedWriter(WriteUnauthorized)
	auth.SetRateLimitedWriter(WriteRateLimited)
	return s
}

// Routes builds the route table. Scope checks run per handler: read for
// reads, write for mutations; the service layer enforces team ownership and
// admin on top.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	read := func(h http.HandlerFunc) http.HandlerFunc { return s.scoped(contracts.ScopeRead, h) }
	write := func(h http.HandlerFunc) http.HandlerFunc { return s.scoped(contracts.ScopeWrite, h) }

	mux.HandleFunc("GET /api/v1/teams", read(s.handleListTeams))
	mux.HandleFunc("POST /api/v1/teams", write(s.handleCreateTeam))
	mux.HandleFunc("GET /api/v1/teams/{id}", read(s.handleGetTeam))
	mux.HandleFunc("PATCH /api/v1/teams/{id}", write(s.handleUpdateTeam))
	mux.HandleFunc("DELETE /api/v1/teams/{id}", write(s.handleDeleteTeam))

	mux.HandleFunc("GET /api/v1/users", read(s.handleListUsers))
	mux.HandleFunc("POST /api/v1/users", write(s.handleCreateUser))
	mux.HandleFunc("GET /api/v1/users/{id}", read(s.handleGetUser))
	mux.HandleFunc("PATCH /api/v1/users/{id}", write(s.handleUpdateUser))
	mux.HandleFunc("DELETE /api/v1/users/{id}", write(s.handleDeactivateUser))
	mux.HandleFunc("POST /api/v1/users/{id}/reactivate", write(s.handleReactivateUser))

	// "search" would otherwise be captured by the {id} pattern; the more
	// specific literal segment wins under ServeMux precedence.
	mux.HandleFunc("GET /api/v1/assets", read(s.handleListAssets))
	mux.HandleFunc("POST /api/v1/assets", write(s.handleCreateAsset))
	mux.HandleFunc("GET /api/v1/assets/search", read(s.handleSearchAssets))
	mux.HandleFunc("GET /api/v1/assets/{id}", read(s.handleGetAsset))
	mux.HandleFunc("PATCH /api/v1/assets/{id}", write(s.handleUpdateAsset))
	mux.HandleFunc("DELETE /api/v1/assets/{id}", write(s.handleDeleteAsset))
	mux.HandleFunc("GET /api/v1/assets/{id}/contracts", read(s.handleListAssetContracts))
	mux.HandleFunc("POST /api/v1/assets/{id}/contracts", write(s.handlePublishContract))
	mux.HandleFunc("GET /api/v1/assets/{id}/dependencies", read(s.handleListDependencies))
	mux.HandleFunc("POST /api/v1/assets/{id}/dependencies", write(s.handleAddDependency))
	mux.HandleFunc("DELETE /api/v1/assets/{id}/dependencies/{dep_id}", write(s.handleRemoveDependency))
	mux.HandleFunc("GET /api/v1/assets/{id}/lineage", read(s.handleLineage))
	mux.HandleFunc("POST /api/v1/assets/{id}/impact", read(s.handleAssetImpact))
	mux.HandleFunc("POST /api/v1/assets/{id}/audit-results", write(s.handleReportAuditRun))
	mux.HandleFunc("GET /api/v1/assets/{id}/audit-history", read(s.handleAuditHistory))
	mux.HandleFunc("GET /api/v1/assets/{id}/audit-trends", read(s.handleAuditTrends))

	mux.HandleFunc("GET /api/v1/contracts", read(s.handleListContracts))
	mux.HandleFunc("GET /api/v1/contracts/{id}", read(s.handleGetContract))
	mux.HandleFunc("PATCH /api/v1/contracts/{id}/guarantees", write(s.handleUpdateGuarantees))
	mux.HandleFunc("POST /api/v1/contracts/{id}/deprecate", write(s.handleDeprecateContract))
	mux.HandleFunc("POST /api/v1/contracts/{id}/withdraw", write(s.handleWithdrawContract))
	mux.HandleFunc("GET /api/v1/contracts/{id}/registrations", read(s.handleContractRegistrations))

	mux.HandleFunc("GET /api/v1/registrations", read(s.handleListRegistrations))
	mux.HandleFunc("POST /api/v1/registrations", write(s.handleRegisterConsumer))
	mux.HandleFunc("DELETE /api/v1/registrations/{id}", write(s.handleRevokeRegistration))

	mux.HandleFunc("GET /api/v1/proposals", read(s.handleListProposals))
	mux.HandleFunc("GET /api/v1/proposals/{id}", read(s.handleGetProposal))
	mux.HandleFunc("GET /api/v1/proposals/{id}/status", read(s.handleProposalStatus))
	mux.HandleFunc("POST /api/v1/proposals/{id}/acknowledge", write(s.handleAcknowledge))
	mux.HandleFunc("POST /api/v1/proposals/{id}/withdraw", write(s.handleWithdrawProposal))
	mux.HandleFunc("POST /api/v1/proposals/{id}/force", write(s.handleForceApprove))
	mux.HandleFunc("POST /api/v1/proposals/{id}/expire", write(s.handleExpireProposal))
	mux.HandleFunc("POST /api/v1/proposals/{id}/publish", write(s.handlePublishFromProposal))

	mux.HandleFunc("POST /api/v1/sync/dbt/upload", write(s.handleDbtUpload))
	mux.HandleFunc("POST /api/v1/sync/dbt/diff", read(s.handleDbtDiff))
	mux.HandleFunc("POST /api/v1/sync/dbt/impact", read(s.handleDbtImpact))
	mux.HandleFunc("POST /api/v1/sync/openapi", write(s.handleOpenAPIUpload))
	mux.HandleFunc("POST /api/v1/sync/graphql", write(s.handleGraphQLUpload))
	mux.HandleFunc("POST /api/v1/sync/push", write(s.handleSyncPush))
	mux.HandleFunc("POST /api/v1/sync/pull", write(s.handleSyncPull))

	mux.HandleFunc("POST /api/v1/bulk/registrations", write(s.handleBulkRegistrations))
	mux.HandleFunc("POST /api/v1/bulk/assets", write(s.handleBulkAssets))
	mux.HandleFunc("POST /api/v1/bulk/acknowledgments", write(s.handleBulkAcknowledgments))

	return mux
}

// Handler assembles the middleware chain around the route table.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Routes()
	h = auth.RateLimitMiddleware(s.limiter, auth.DefaultLimitPolicy)(h)
	h = auth.Middleware(s.authn)(h)
	h = s.metrics.HTTPMiddleware(h)
	h = auth.CORSMiddleware(s.cors)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady checks the store; a failing ping means the instance should be
// taken out of rotation.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable", "reason": "store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleMetrics reports process vitals. Instrument export goes through the
// OpenTelemetry provider configured at deploy time, not this endpoint.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc":      mem.HeapAlloc,
		"total_alloc":     mem.TotalAlloc,
		"num_gc":          mem.NumGC,
		"go_max_procs":    runtime.GOMAXPROCS(0),
		"runtime_version": runtime.Version(),
	})
}
