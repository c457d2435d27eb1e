package auth

import (
	"context"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Service turns bearer tokens into request identities. Tokens are issued
// elsewhere; only verification happens here.
type Service struct {
	jwtSvc auth.JWTService
}

func NewService(jwtSvc auth.JWTService) *Service {
	return &Service{jwtSvc: jwtSvc}
}

func (s *Service) Authenticate(_ context.Context, token string) (*model.Identity, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}

	return &model.Identity{
		ID:    claims.UserID,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}
