package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func TestAuthenticate(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", "clinic-api", time.Hour)
	svc := NewService(jwtSvc)

	user := &model.User{Email: "doc@example.com", Role: model.RoleDoctor}
	user.ID = uuid.New()
	token, err := jwtSvc.GenerateAccessToken(user)
	require.NoError(t, err)

	identity, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: user.ID, Email: user.Email, Role: model.RoleDoctor}, *identity)

	_, err = svc.Authenticate(context.Background(), "not-a-token")
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}
