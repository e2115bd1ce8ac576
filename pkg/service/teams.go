package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

// CreateTeamRequest carries the fields a caller controls on creation.
type CreateTeamRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Services) CreateTeam(ctx context.Context, actor Actor, req CreateTeamRequest) (*contracts.Team, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, E(KindBadRequest, "team name is required")
	}
	team := &contracts.Team{
		ID:        uuid.NewString(),
		Name:      name,
		Metadata:  req.Metadata,
		CreatedAt: s.now().UTC(),
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		return storeErr(q.CreateTeam(ctx, team), "team "+name)
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "team.created", actor.UserID, "team", team.ID, map[string]any{"name": name})
	return team, nil
}

func (s *Services) GetTeam(ctx context.Context, id string) (*contracts.Team, error) {
	team, err := s.store.GetTeam(ctx, id)
	return team, storeErr(err, "team")
}

func (s *Services) ListTeams(ctx context.Context, f store.TeamFilter) ([]*contracts.Team, error) {
	return s.store.ListTeams(ctx, f)
}

// UpdateTeamRequest patches a team; nil fields are untouched.
type UpdateTeamRequest struct {
	Name     *string        `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Services) UpdateTeam(ctx context.Context, actor Actor, id string, req UpdateTeamRequest) (*contracts.Team, error) {
	if err := s.mustOwnTeam(actor, id); err != nil {
		return nil, err
	}
	var team *contracts.Team
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		team, err = q.GetTeam(ctx, id)
		if err != nil {
			return storeErr(err, "team")
		}
		if team.DeletedAt != nil {
			return E(KindNotFound, "team not found")
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return E(KindBadRequest, "team name is required")
			}
			team.Name = name
		}
		if req.Metadata != nil {
			team.Metadata = req.Metadata
		}
		return storeErr(q.UpdateTeam(ctx, team), "team "+team.Name)
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "team.updated", actor.UserID, "team", id, nil)
	return team, nil
}

func (s *Services) DeleteTeam(ctx context.Context, actor Actor, id string) error {
	if err := s.mustAdmin(actor); err != nil {
		return err
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		return storeErr(q.SoftDeleteTeam(ctx, id, s.now()), "team")
	})
	if err != nil {
		return err
	}
	s.journal.Record(ctx, "team.deleted", actor.UserID, "team", id, nil)
	return nil
}
