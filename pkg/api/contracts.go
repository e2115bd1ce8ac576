package api

import (
	"net/http"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

func contractFilter(r *http.Request) store.ContractFilter {
	q := r.URL.Query()
	return store.ContractFilter{
		AssetID: q.Get("asset_id"),
		Status:  contracts.ContractStatus(q.Get("status")),
		Version: q.Get("version"),
		TeamID:  q.Get("published_by"),
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
	}
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListContracts(r.Context(), contractFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": list})
}

func (s *Server) handleListAssetContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListAssetContracts(r.Context(), r.PathValue("id"), contractFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": list})
}

// handlePublishContract runs the publish decision tree. The response status
// mirrors the decision: 201 for a published contract, 202 for a proposal
// held for consumer acknowledgment.
func (s *Server) handlePublishContract(w http.ResponseWriter, r *http.Request) {
	var req service.PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.AssetID = r.PathValue("id")
	if queryBool(r, "force") {
		req.Force = true
	}
	decision, err := s.svc.Publish(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if decision.Action == service.ActionProposalCreated {
		status = http.StatusAccepted
	}
	writeJSON(w, status, decision)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.GetContract(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type guaranteesBody struct {
	Guarantees *contracts.Guarantees `json:"guarantees"`
}

func (s *Server) handleUpdateGuarantees(w http.ResponseWriter, r *http.Request) {
	var body guaranteesBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.svc.UpdateGuarantees(r.Context(), actor(r), r.PathValue("id"), body.Guarantees)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeprecateContract(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeprecateContract(r.Context(), actor(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWithdrawContract(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.WithdrawContract(r.Context(), actor(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- registrations ----

func (s *Server) handleContractRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := s.svc.ListContractRegistrations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": regs})
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	regs, err := s.svc.ListRegistrations(r.Context(), store.RegistrationFilter{
		ContractID:     q.Get("contract_id"),
		ConsumerTeamID: q.Get("consumer_team_id"),
		Status:         contracts.RegistrationStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": regs})
}

func (s *Server) handleRegisterConsumer(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := s.svc.RegisterConsumer(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleRevokeRegistration(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RevokeRegistration(r.Context(), actor(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
