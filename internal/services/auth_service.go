package services

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"retrocart/internal/domain"
	"retrocart/internal/repos"
)

// Principal is who is calling: always a session, sometimes a signed-in user.
type Principal struct {
	SessionID string
	User      *domain.User
}

func (p Principal) UserID() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}

// Actor names the principal in history rows and logs.
func (p Principal) Actor() string {
	if p.User != nil {
		return "user:" + p.User.ID
	}
	return "session:" + p.SessionID
}

type AuthService struct {
	Users *repos.UserRepo
}

func (s *AuthService) Login(ctx context.Context, sid, email, password string) (*domain.User, error) {
	u, err := s.Users.ByEmail(ctx, email)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Users.BindSession(ctx, sid, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, sid string) error {
	return s.Users.UnbindSession(ctx, sid)
}

// CurrentUser returns nil without error for anonymous sessions.
func (s *AuthService) CurrentUser(ctx context.Context, sid string) (*domain.User, error) {
	if sid == "" {
		return nil, nil
	}
	u, err := s.Users.SessionUser(ctx, sid)
	if errors.Is(err, repos.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

// Capabilities re-reads the user's roles from storage; nothing the client
// sends is trusted.
func (s *AuthService) Capabilities(ctx context.Context, p Principal) (domain.Capabilities, error) {
	if p.User == nil {
		return domain.Capabilities{}, nil
	}
	roles, err := s.Users.Roles(ctx, p.User.ID)
	if err != nil {
		return domain.Capabilities{}, err
	}
	return domain.CapabilitiesFor(roles), nil
}
