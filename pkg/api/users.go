package api

import (
	"net/http"
	"strings"

	"github.com/tessera-io/tessera/pkg/auth"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListUsers(r.Context(), store.UserFilter{
		Email:              r.URL.Query().Get("email"),
		Name:               r.URL.Query().Get("name"),
		TeamID:             r.URL.Query().Get("team_id"),
		IncludeDeactivated: queryBool(r, "include_deactivated"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// createUserBody adds the optional plaintext password to the service request;
// hashing happens here so the service layer never sees it.
type createUserBody struct {
	service.CreateUserRequest
	Password string `json:"password,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body createUserBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Password != "" {
		hash, err := auth.HashPassword(body.Password)
		if err != nil {
			writeError(w, r, service.E(service.KindInternal, "password hashing failed"))
			return
		}
		body.CreateUserRequest.PasswordHash = hash
	}
	user, err := s.svc.CreateUser(r.Context(), actor(r), body.CreateUserRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.svc.UpdateUser(r.Context(), actor(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeactivateUser(r.Context(), actor(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReactivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.ReactivateUser(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin exchanges email+password for a session token. Failures are
// deliberately indistinguishable: unknown email, wrong password and a
// deactivated account all answer the same 401.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	invalid := service.E(service.KindUnauthorized, "invalid credentials")

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil || !user.Active() || user.PasswordHash == "" ||
		!auth.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, r, invalid)
		return
	}
	token, err := s.authn.IssueSession(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}
