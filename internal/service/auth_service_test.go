package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	appErrors "github.com/FLX-Software/flx-assets-2026-sub000/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	findByEmailErr   error
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newAuthFixture(t *testing.T, active bool) (*AuthService, *mockAuthRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID:             "user-1",
		OrganizationID: "org-1",
		Email:          "ada@example.com",
		PasswordHash:   string(hash),
		FullName:       "Ada",
		Role:           models.RoleStaff,
		Active:         active,
	}}
	svc := NewAuthService(repo, nil, zap.NewNop(), AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "asset-lending-api",
	})
	return svc, repo
}

func TestAuthServiceLoginIssuesOrganizationScopedToken(t *testing.T) {
	svc, repo := newAuthFixture(t, true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "secret123", IP: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "org-1", resp.User.OrganizationID)
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{ID: "user-1", Role: models.RoleStaff, OrganizationID: "org-1"}, claims.Actor())
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceLoginUnknownAndInactive(t *testing.T) {
	svc, repo := newAuthFixture(t, false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)

	repo.findByEmailErr = sql.ErrNoRows
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestAuthServiceValidateTokenRejectsForeignSignature(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin, OrganizationID: "org-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(forged)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceValidateTokenRequiresOrganization(t *testing.T) {
	svc, _ := newAuthFixture(t, true)

	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
