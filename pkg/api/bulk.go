package api

import (
	"net/http"

	"github.com/tessera-io/tessera/pkg/service"
)

func (s *Server) handleBulkRegistrations(w http.ResponseWriter, r *http.Request) {
	var req service.BulkRegistrationsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.svc.BulkRegistrations(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, bulkStatus(result), result)
}

func (s *Server) handleBulkAssets(w http.ResponseWriter, r *http.Request) {
	var req service.BulkAssetsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.svc.BulkAssets(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, bulkStatus(result), result)
}

func (s *Server) handleBulkAcknowledgments(w http.ResponseWriter, r *http.Request) {
	var req service.BulkAcknowledgmentsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.svc.BulkAcknowledgments(r.Context(), actor(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, bulkStatus(result), result)
}

// bulkStatus keeps bulk responses 200 when everything succeeded and 207
// when outcomes are mixed; the per-item results carry the detail either way.
func bulkStatus(result *service.BulkResult) int {
	if result.Failed > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}
