package api

import (
	"net/http"

	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.svc.ListTeams(r.Context(), store.TeamFilter{
		Name:           r.URL.Query().Get("name"),
		IncludeDeleted: queryBool(r, "include_deleted"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err := s.svc.CreateTeam(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.svc.GetTeam(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err := s.svc.UpdateTeam(r.Context(), actor(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTeam(r.Context(), actor(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
