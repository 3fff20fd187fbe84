package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenMissingClaim = errors.New("token missing required claim")
	// ErrValidationMethodUnavailable means the token needs a method that is
	// not configured, e.g. a kid without a JWKS URL.
	ErrValidationMethodUnavailable = errors.New("no validation method available for token")
	ErrJWKSKeyNotFound             = errors.New("jwks key not found")
)

const (
	acceptableSkew = 30 * time.Second
	jwksTimeout    = 10 * time.Second
)

// Validator turns a bearer token into the subject it was issued to.
type Validator interface {
	Validate(tokenString string) (string, error)
}

// JWTValidator accepts HS256 tokens signed with the shared secret and, when a
// key source is configured, asymmetric tokens whose header names a kid.
type JWTValidator struct {
	secret []byte
	keys   KeySource
}

var _ Validator = (*JWTValidator)(nil)

// NewJWTValidator builds a validator from the server config. At least one of
// the shared secret or the JWKS URL must be set.
func NewJWTValidator(cfg *config.ServerConfig) (*JWTValidator, error) {
	var keys KeySource
	if cfg.JWKSURL != "" {
		keys = NewJWKSCache(cfg.JWKSURL, defaultJWKSTTL, nil)
	}
	return NewJWTValidatorWithKeys([]byte(cfg.JwtSecretKey), keys)
}

func NewJWTValidatorWithKeys(secret []byte, keys KeySource) (*JWTValidator, error) {
	if len(secret) == 0 && keys == nil {
		return nil, fmt.Errorf("JWT validator configuration error: a secret or a JWKS URL is required")
	}
	return &JWTValidator{secret: secret, keys: keys}, nil
}

func (v *JWTValidator) Validate(tokenString string) (string, error) {
	msg, err := jws.Parse([]byte(tokenString))
	if err != nil || len(msg.Signatures()) == 0 {
		return "", fmt.Errorf("%w: malformed token", ErrTokenInvalid)
	}
	header := msg.Signatures()[0].ProtectedHeaders()

	var opts []jwt.ParseOption
	switch {
	case header.KeyID() != "":
		if v.keys == nil {
			return "", ErrValidationMethodUnavailable
		}
		ctx, cancel := context.WithTimeout(context.Background(), jwksTimeout)
		defer cancel()
		key, err := v.keys.GetKey(ctx, header.KeyID())
		if err != nil {
			return "", err
		}
		alg := key.Algorithm()
		if alg == nil || alg.String() == "" {
			alg = header.Algorithm()
		}
		opts = append(opts, jwt.WithKey(alg, key))
	case len(v.secret) > 0:
		opts = append(opts, jwt.WithKey(jwa.HS256, v.secret))
	default:
		return "", ErrValidationMethodUnavailable
	}
	opts = append(opts, jwt.WithValidate(true), jwt.WithAcceptableSkew(acceptableSkew))

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return "", fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		logger.GetLogger().Debugw("JWT validation failed", "error", err, "token", logger.MaskJWT(tokenString))
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if token.Subject() == "" {
		return "", ErrTokenMissingClaim
	}
	return token.Subject(), nil
}
