package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lexora/lexora-api/internal/models"
	appErrors "github.com/lexora/lexora-api/pkg/errors"
)

type authRepoStub struct {
	users         map[string]*models.User
	lastLoginErr  error
	auditErr      error
	lastLoginSet  bool
	auditedAction string
}

func (s *authRepoStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := s.users[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) FindByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	s.lastLoginSet = true
	return s.lastLoginErr
}

func (s *authRepoStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.auditedAction = log.Action
	return s.auditErr
}

func testAuthConfig() AuthConfig {
	return AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "lexora-api"}
}

func hashPassword(t *testing.T, plain string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func activeLawyer(t *testing.T) *models.User {
	dept := "dept-1"
	return &models.User{
		ID:           "lawyer-1",
		Email:        "ada@lexora.test",
		PasswordHash: hashPassword(t, "correct-horse"),
		FullName:     "Ada Bern",
		Role:         models.RoleLawyer,
		DepartmentID: &dept,
		Active:       true,
	}
}

func TestLoginIssuesValidatableToken(t *testing.T) {
	user := activeLawyer(t)
	repo := &authRepoStub{users: map[string]*models.User{user.Email: user}}
	svc := NewAuthService(repo, nil, nil, testAuthConfig())

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.True(t, repo.lastLoginSet)
	assert.Equal(t, models.AuditActionLogin, repo.auditedAction)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "lawyer-1", claims.UserID)
	assert.Equal(t, models.RoleLawyer, claims.Role)
	assert.Equal(t, "dept-1", claims.DepartmentID)
}

func TestLoginWrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	user := activeLawyer(t)
	repo := &authRepoStub{users: map[string]*models.User{user.Email: user}}
	svc := NewAuthService(repo, nil, nil, testAuthConfig())

	_, badPass := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "wrong-password"})
	_, noUser := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@lexora.test", Password: "correct-horse"})

	var appA, appB *appErrors.Error
	require.ErrorAs(t, badPass, &appA)
	require.ErrorAs(t, noUser, &appB)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appA.Code)
	// Enumeration protection: both failures carry the same message.
	assert.Equal(t, appA.Message, appB.Message)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	user := activeLawyer(t)
	user.Active = false
	repo := &authRepoStub{users: map[string]*models.User{user.Email: user}}
	svc := NewAuthService(repo, nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "correct-horse"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestLoginValidatesPayloadFirst(t *testing.T) {
	repo := &authRepoStub{users: map[string]*models.User{}}
	svc := NewAuthService(repo, nil, nil, testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "short"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestLoginSurvivesAuditFailures(t *testing.T) {
	user := activeLawyer(t)
	repo := &authRepoStub{
		users:        map[string]*models.User{user.Email: user},
		lastLoginErr: errors.New("db down"),
		auditErr:     errors.New("db down"),
	}
	svc := NewAuthService(repo, nil, nil, testAuthConfig())

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "correct-horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	user := activeLawyer(t)
	repo := &authRepoStub{users: map[string]*models.User{user.Email: user}}
	issuer := NewAuthService(repo, nil, nil, AuthConfig{Secret: "other-secret", Expiration: time.Hour, Issuer: "lexora-api"})
	verifier := NewAuthService(repo, nil, nil, testAuthConfig())

	resp, err := issuer.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "correct-horse"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(resp.AccessToken)
	require.Error(t, err)
}

func TestValidateTokenRejectsUnknownRole(t *testing.T) {
	user := activeLawyer(t)
	user.Role = models.UserRole("INTERN")
	repo := &authRepoStub{users: map[string]*models.User{user.Email: user}}
	svc := NewAuthService(repo, nil, nil, testAuthConfig())

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "correct-horse"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.AccessToken)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}
