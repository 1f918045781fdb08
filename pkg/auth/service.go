package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization   = errors.New("missing authorization")
	ErrInvalidAuthFormat      = errors.New("invalid authorization header format")
	ErrMissingOrganisationID  = errors.New("missing organisation ID in token")
	ErrOrganisationIDMismatch = errors.New("organisation ID mismatch between token and URL")
	ErrInvalidOrExpiredToken  = errors.New("invalid or expired token")
)

// AuthService validates management requests carrying a JWT.
type AuthService interface {
	// ValidateRequest reads the Bearer token from the Authorization header and validates it.
	ValidateRequest(r *http.Request) (*Claims, string, error)
	// RequireOrganisationID fails when the claims carry no organisation.
	RequireOrganisationID(claims *Claims) error
	// ValidateOrganisationMatch ensures the organisation in the URL is the token's organisation.
	ValidateOrganisationMatch(claims *Claims, urlOrganisationID string) error
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates an AuthService backed by validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger.Named("auth"),
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		s.logger.Debug("No usable JWT in request",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, "", err
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, "", err
	}
	return claims, tokenString, nil
}

func (s *authService) RequireOrganisationID(claims *Claims) error {
	if claims.OrganisationID == "" {
		return ErrMissingOrganisationID
	}
	return nil
}

func (s *authService) ValidateOrganisationMatch(claims *Claims, urlOrganisationID string) error {
	if urlOrganisationID != "" && !strings.EqualFold(claims.OrganisationID, urlOrganisationID) {
		s.logger.Warn("Organisation ID mismatch",
			zap.String("url_organisation_id", urlOrganisationID),
			zap.String("token_organisation_id", claims.OrganisationID))
		return ErrOrganisationIDMismatch
	}
	return nil
}

// bearerToken extracts the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidAuthFormat
	}
	return strings.TrimSpace(token), nil
}

var _ AuthService = (*authService)(nil)
