package api

import (
	"encoding/json"
	"net/http"

	"github.com/tessera-io/tessera/pkg/auditrun"
	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assets, err := s.svc.ListAssets(r.Context(), store.AssetFilter{
		OwnerTeamID:    q.Get("owner_team_id"),
		OwnerUserID:    q.Get("owner_user_id"),
		Environment:    q.Get("environment"),
		ResourceType:   q.Get("resource_type"),
		IncludeDeleted: queryBool(r, "include_deleted"),
		Limit:          queryInt(r, "limit"),
		Offset:         queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := s.svc.CreateAsset(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleSearchAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.svc.SearchAssets(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.svc.GetAsset(r.Context(), r.PathValue("id"), queryBool(r, "include_deleted"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := s.svc.UpdateAsset(r.Context(), actor(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteAsset(r.Context(), actor(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- dependencies ----

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.svc.ListDependencies(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dependencies": deps})
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req service.AddDependencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dep, err := s.svc.AddDependency(r.Context(), actor(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	err := s.svc.RemoveDependency(r.Context(), actor(r), r.PathValue("id"), r.PathValue("dep_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := s.svc.AssetLineage(r.Context(), r.PathValue("id"), queryInt(r, "depth"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

// ---- impact ----

type impactRequest struct {
	Schema json.RawMessage `json:"schema"`
}

func (s *Server) handleAssetImpact(w http.ResponseWriter, r *http.Request) {
	var req impactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	impact, err := s.svc.AssetImpact(r.Context(), r.PathValue("id"), req.Schema)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

// ---- audit runs ----

func (s *Server) handleReportAuditRun(w http.ResponseWriter, r *http.Request) {
	var req auditrun.ReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.runs.Report(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runs.History(r.Context(), r.PathValue("id"), store.AuditRunFilter{
		Status:      contracts.AuditRunStatus(r.URL.Query().Get("status")),
		TriggeredBy: r.URL.Query().Get("triggered_by"),
		Limit:       queryInt(r, "limit"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleAuditTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := s.runs.Trends(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}
