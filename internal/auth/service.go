package auth

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"whale-spot-bot/config"
)

var errMissingSecret = errors.New("auth enabled without jwt_secret")

// Service authenticates the operators listed in config
type Service struct {
	principals map[string]config.Principal
	jwt        *JWTManager
	logger     zerolog.Logger
}

func NewService(cfg config.AuthConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errMissingSecret
	}
	s := &Service{
		principals: make(map[string]config.Principal, len(cfg.Principals)),
		jwt:        NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration),
		logger:     logger.With().Str("component", "auth").Logger(),
	}
	for _, p := range cfg.Principals {
		name := strings.ToLower(strings.TrimSpace(p.Username))
		if name == "" || p.PasswordHash == "" {
			s.logger.Warn().Str("username", p.Username).Msg("Skipping principal without username or password hash")
			continue
		}
		s.principals[name] = p
	}
	if len(s.principals) == 0 {
		s.logger.Warn().Msg("Auth enabled but no principals configured, every login will fail")
	}
	return s, nil
}

// JWT returns the token manager for the middleware
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login checks the password and issues an access token
func (s *Service) Login(req LoginRequest) (*LoginResponse, error) {
	p, ok := s.principals[strings.ToLower(strings.TrimSpace(req.Username))]
	if !ok {
		VerifyPassword(req.Password, string(dummyHash))
		s.logger.Warn().Str("username", req.Username).Msg("Login for unknown principal")
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(req.Password, p.PasswordHash) {
		s.logger.Warn().Str("username", p.Username).Msg("Login with wrong password")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(PrincipalClaims{Username: p.Username, TelegramID: p.TelegramID})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", p.Username).Msg("Principal logged in")
	return &LoginResponse{
		Username:    p.Username,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwt.AccessTokenSeconds(),
		ExpiresAt:   expiresAt,
	}, nil
}
