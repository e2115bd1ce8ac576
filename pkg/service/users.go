package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

// CreateUserRequest carries the caller-controlled user fields. PasswordHash
// is pre-hashed by the auth layer; plaintext never reaches the service.
type CreateUserRequest struct {
	Email        string         `json:"email"`
	Name         string         `json:"name,omitempty"`
	Role         contracts.Role `json:"role,omitempty"`
	TeamID       *string        `json:"team_id,omitempty"`
	PasswordHash string         `json:"-"`
}

func (s *Services) CreateUser(ctx context.Context, actor Actor, req CreateUserRequest) (*contracts.User, error) {
	if err := s.mustAdmin(actor); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, E(KindBadRequest, "a valid email is required")
	}
	role := req.Role
	if role == "" {
		role = contracts.RoleUser
	}
	if !contracts.ValidRole(role) {
		return nil, E(KindBadRequest, "unknown role %q", role)
	}
	user := &contracts.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         req.Name,
		PasswordHash: req.PasswordHash,
		Role:         role,
		TeamID:       req.TeamID,
		CreatedAt:    s.now().UTC(),
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		if req.TeamID != nil {
			if _, err := q.GetTeam(ctx, *req.TeamID); err != nil {
				return storeErr(err, "team")
			}
		}
		return storeErr(q.CreateUser(ctx, user), "user "+email)
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "user.created", actor.UserID, "user", user.ID, map[string]any{"email": email})
	return user, nil
}

func (s *Services) GetUser(ctx context.Context, id string) (*contracts.User, error) {
	user, err := s.store.GetUser(ctx, id)
	return user, storeErr(err, "user")
}

func (s *Services) ListUsers(ctx context.Context, f store.UserFilter) ([]*contracts.User, error) {
	return s.store.ListUsers(ctx, f)
}

// UpdateUserRequest patches a user; nil fields are untouched.
type UpdateUserRequest struct {
	Name   *string         `json:"name,omitempty"`
	Role   *contracts.Role `json:"role,omitempty"`
	TeamID *string         `json:"team_id,omitempty"`
}

func (s *Services) UpdateUser(ctx context.Context, actor Actor, id string, req UpdateUserRequest) (*contracts.User, error) {
	if err := s.mustAdmin(actor); err != nil {
		return nil, err
	}
	var user *contracts.User
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		user, err = q.GetUser(ctx, id)
		if err != nil {
			return storeErr(err, "user")
		}
		if req.Name != nil {
			user.Name = *req.Name
		}
		if req.Role != nil {
			if !contracts.ValidRole(*req.Role) {
				return E(KindBadRequest, "unknown role %q", *req.Role)
			}
			user.Role = *req.Role
		}
		if req.TeamID != nil {
			if *req.TeamID == "" {
				user.TeamID = nil
			} else {
				if _, err := q.GetTeam(ctx, *req.TeamID); err != nil {
					return storeErr(err, "team")
				}
				user.TeamID = req.TeamID
			}
		}
		return storeErr(q.UpdateUser(ctx, user), "user "+user.Email)
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "user.updated", actor.UserID, "user", id, nil)
	return user, nil
}

// DeactivateUser stamps the user and releases any asset ownership they hold,
// since a deactivated user cannot remain an active owner.
func (s *Services) DeactivateUser(ctx context.Context, actor Actor, id string) error {
	if err := s.mustAdmin(actor); err != nil {
		return err
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		user, err := q.GetUser(ctx, id)
		if err != nil {
			return storeErr(err, "user")
		}
		if !user.Active() {
			return E(KindBadRequest, "user is already deactivated")
		}
		now := s.now().UTC()
		user.DeactivatedAt = &now
		if err := q.UpdateUser(ctx, user); err != nil {
			return storeErr(err, "user")
		}
		owned, err := q.ListAssets(ctx, store.AssetFilter{OwnerUserID: id})
		if err != nil {
			return err
		}
		for _, a := range owned {
			a.OwnerUserID = nil
			if err := q.UpdateAsset(ctx, a); err != nil {
				return storeErr(err, "asset")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.journal.Record(ctx, "user.deactivated", actor.UserID, "user", id, nil)
	return nil
}

func (s *Services) ReactivateUser(ctx context.Context, actor Actor, id string) (*contracts.User, error) {
	if err := s.mustAdmin(actor); err != nil {
		return nil, err
	}
	var user *contracts.User
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		user, err = q.GetUser(ctx, id)
		if err != nil {
			return storeErr(err, "user")
		}
		if user.Active() {
			return E(KindBadRequest, "user is not deactivated")
		}
		user.DeactivatedAt = nil
		return storeErr(q.UpdateUser(ctx, user), "user")
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "user.reactivated", actor.UserID, "user", id, nil)
	return user, nil
}
