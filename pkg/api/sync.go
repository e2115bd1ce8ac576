package api

import (
	"net/http"

	"github.com/tessera-io/tessera/pkg/gitsync"
	"github.com/tessera-io/tessera/pkg/ingest"
	"github.com/tessera-io/tessera/pkg/service"
)

// dbtUploadRequest wraps a dbt manifest with the ingestion options.
type dbtUploadRequest struct {
	Manifest ingest.Manifest `json:"manifest"`
	ingest.Options
}

func (s *Server) handleDbtUpload(w http.ResponseWriter, r *http.Request) {
	var req dbtUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts := req.Options
	opts.Actor = actor(r)
	report, err := s.pipeline.Upload(r.Context(), req.Manifest, opts)
	if err != nil {
		// A conflict-mode failure still carries the per-node conflict list.
		if report != nil && service.IsKind(err, service.KindConflict) {
			writeJSON(w, http.StatusConflict, errorBody{Error: errorDetail{
				Code:    string(service.KindConflict),
				Message: "manifest conflicts with existing assets",
				Details: map[string]any{"conflicts": report.Conflicts},
			}})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type dbtDiffRequest struct {
	Manifest ingest.Manifest `json:"manifest"`
	ingest.PreviewOptions
}

func (s *Server) handleDbtDiff(w http.ResponseWriter, r *http.Request) {
	var req dbtDiffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	preview, err := s.pipeline.Preview(r.Context(), req.Manifest, req.PreviewOptions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type dbtImpactRequest struct {
	Manifest    ingest.Manifest `json:"manifest"`
	Environment string          `json:"environment,omitempty"`
}

func (s *Server) handleDbtImpact(w http.ResponseWriter, r *http.Request) {
	var req dbtImpactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	impacts, err := s.pipeline.Impact(r.Context(), req.Manifest, req.Environment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": impacts})
}

type openAPIUploadRequest struct {
	Document ingest.OpenAPIDocument `json:"document"`
	ingest.Options
}

func (s *Server) handleOpenAPIUpload(w http.ResponseWriter, r *http.Request) {
	var req openAPIUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts := req.Options
	opts.Actor = actor(r)
	report, err := s.pipeline.UploadOpenAPI(r.Context(), req.Document, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type graphQLUploadRequest struct {
	Document ingest.GraphQLDocument `json:"document"`
	ingest.Options
}

func (s *Server) handleGraphQLUpload(w http.ResponseWriter, r *http.Request) {
	var req graphQLUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts := req.Options
	opts.Actor = actor(r)
	report, err := s.pipeline.UploadGraphQL(r.Context(), req.Document, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// requireSyncer guards the git-sync endpoints when GIT_SYNC_PATH is unset.
func (s *Server) requireSyncer() (*gitsync.Syncer, error) {
	if s.syncer == nil {
		return nil, service.E(service.KindBadRequest, "git sync is not configured")
	}
	return s.syncer, nil
}

func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	syncer, err := s.requireSyncer()
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := syncer.Push(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	syncer, err := s.requireSyncer()
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := syncer.Pull(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
