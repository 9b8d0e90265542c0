package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

type authAuditLogger interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	SingleSession      bool
}

// AuthService authenticates operators against the accounts seeded from
// configuration. Refresh tokens are held in memory only; a restart signs
// every operator out.
type AuthService struct {
	operators []models.Operator
	audit     authAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig

	mu     sync.Mutex
	tokens map[string]models.RefreshToken
}

// NewAuthService constructs an AuthService instance. Operators without an ID
// get one assigned so audit records and claims stay addressable.
func NewAuthService(operators []models.Operator, audit authAuditLogger, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	seeded := make([]models.Operator, len(operators))
	copy(seeded, operators)
	for i := range seeded {
		if seeded[i].ID == "" {
			seeded[i].ID = uuid.NewString()
		}
	}
	return &AuthService{
		operators: seeded,
		audit:     audit,
		validator: validate,
		logger:    logger,
		config:    config,
		tokens:    make(map[string]models.RefreshToken),
	}
}

// Login checks the credentials and, on success, issues a token pair.
// Unknown email and wrong password produce the same error.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	operator, ok := s.operatorByEmail(req.Email)
	if !ok || bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(req.Password)) != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if s.config.SingleSession {
		s.revokeOperatorTokens(operator.ID)
	}

	accessToken, _, err := s.generateAccessToken(operator)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign access token")
	}
	refresh, err := s.issueRefreshToken(operator.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "issue refresh token")
	}

	s.recordAuthAudit(ctx, operator, models.AuditActionLogin, []byte(`{"status":"success"}`), req.IP, req.UserAgent)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     time.Now().UTC(),
		User: models.UserInfo{
			ID:    operator.ID,
			Email: operator.Email,
			Name:  operator.Name,
			Role:  operator.Role,
		},
	}, nil
}

// RefreshToken trades a live refresh token for a new pair. The consumed
// token is revoked on the spot; every refresh token is single use.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, ok := s.lookupToken(req.RefreshToken)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
	}
	if stored.Revoked || time.Now().UTC().After(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}
	operator, ok := s.operatorByID(stored.UserID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "operator no longer exists")
	}

	s.revokeToken(stored.Token)

	accessToken, _, err := s.generateAccessToken(operator)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign access token")
	}
	rotated, err := s.issueRefreshToken(operator.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "issue refresh token")
	}

	s.recordAuthAudit(ctx, operator, models.AuditActionLogin, []byte(`{"refresh":"rotated"}`), req.IP, req.UserAgent)

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: rotated.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     time.Now().UTC(),
	}, nil
}

// Logout revokes the presented refresh token. The token must belong to
// the operator doing the logging out.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, operatorID string, meta models.LoginRequest) error {
	stored, ok := s.lookupToken(refreshToken)
	if !ok {
		return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
	}
	if stored.UserID != operatorID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to operator")
	}

	s.revokeToken(stored.Token)

	if operator, ok := s.operatorByID(operatorID); ok {
		s.recordAuthAudit(ctx, operator, models.AuditActionLogout, []byte(`{"status":"logout"}`), meta.IP, meta.UserAgent)
	}
	return nil
}

// ValidateToken checks an access token's signature and registered claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&models.JWTClaims{},
		func(*jwt.Token) (interface{}, error) { return []byte(s.config.AccessTokenSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) operatorByEmail(email string) (models.Operator, bool) {
	for _, op := range s.operators {
		if strings.EqualFold(op.Email, email) {
			return op, true
		}
	}
	return models.Operator{}, false
}

func (s *AuthService) operatorByID(id string) (models.Operator, bool) {
	for _, op := range s.operators {
		if op.ID == id {
			return op, true
		}
	}
	return models.Operator{}, false
}

func (s *AuthService) issueRefreshToken(operatorID string) (models.RefreshToken, error) {
	value, err := newOpaqueToken()
	if err != nil {
		return models.RefreshToken{}, err
	}
	now := time.Now().UTC()
	token := models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    operatorID,
		Token:     value,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked(now)
	s.tokens[token.Token] = token
	return token, nil
}

// purgeExpiredLocked drops expired tokens so the map cannot grow without
// bound. Callers must hold s.mu.
func (s *AuthService) purgeExpiredLocked(now time.Time) {
	for key, existing := range s.tokens {
		if now.After(existing.ExpiresAt) {
			delete(s.tokens, key)
		}
	}
}

func (s *AuthService) lookupToken(value string) (models.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[value]
	return token, ok
}

func (s *AuthService) revokeToken(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens[value]; ok {
		token.Revoked = true
		s.tokens[value] = token
	}
}

func (s *AuthService) revokeOperatorTokens(operatorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, token := range s.tokens {
		if token.UserID == operatorID {
			token.Revoked = true
			s.tokens[key] = token
		}
	}
}

func (s *AuthService) recordAuthAudit(ctx context.Context, operator models.Operator, action string, detail []byte, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Actor:      operator.Email,
		Action:     action,
		Resource:   "auth",
		ResourceID: &operator.ID,
		Detail:     detail,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("auth audit write failed", zap.Error(err))
	}
}

func (s *AuthService) generateAccessToken(operator models.Operator) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID: operator.ID,
		Role:   operator.Role,
		Email:  operator.Email,
		Name:   operator.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   operator.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// newOpaqueToken returns 32 bytes of entropy as URL-safe base64.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
