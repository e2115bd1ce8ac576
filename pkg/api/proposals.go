package api

import (
	"net/http"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	proposals, err := s.svc.ListProposals(r.Context(), store.ProposalFilter{
		AssetID:    q.Get("asset_id"),
		Status:     contracts.ProposalStatus(q.Get("status")),
		ProposedBy: q.Get("proposed_by"),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProposalStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.ProposalStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req service.AcknowledgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	outcome, err := s.svc.Acknowledge(r.Context(), actor(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func (s *Server) handleWithdrawProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.WithdrawProposal(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleForceApprove(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.ForceApproveProposal(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleExpireProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.ExpireProposal(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type publishFromProposalRequest struct {
	Version string `json:"version"`
}

func (s *Server) handlePublishFromProposal(w http.ResponseWriter, r *http.Request) {
	var req publishFromProposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.PublishFromProposal(r.Context(), actor(r), r.PathValue("id"), req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
