package realtime

import (
	"context"
	"errors"
)

var (
	ErrNoCredentials = errors.New("realtime: no credentials")
	ErrOwnerMismatch = errors.New("realtime: token subject does not match owner")
)

// TokenValidator verifies a bearer token and returns its subject.
type TokenValidator interface {
	Validate(tokenString string) (string, error)
}

// Credentials are presented at handshake time or in an authenticate event.
type Credentials struct {
	Token   string
	OwnerID string
}

// Empty reports whether no credential was presented.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.OwnerID == ""
}

// Authenticator turns credentials into a raw owner id. The gateway
// canonicalizes the result.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (string, error)
}

// TokenAuthenticator accepts a verified token. With TrustOwner set it also
// accepts a bare owner id, which is only meant for development.
type TokenAuthenticator struct {
	Validator  TokenValidator
	TrustOwner bool
}

func (a TokenAuthenticator) Authenticate(_ context.Context, creds Credentials) (string, error) {
	if creds.Token != "" && a.Validator != nil {
		subject, err := a.Validator.Validate(creds.Token)
		if err != nil {
			return "", err
		}
		if creds.OwnerID != "" && creds.OwnerID != subject {
			return "", ErrOwnerMismatch
		}
		return subject, nil
	}
	if a.TrustOwner && creds.OwnerID != "" {
		return creds.OwnerID, nil
	}
	return "", ErrNoCredentials
}

// TrustingAuthenticator takes the owner id at face value.
type TrustingAuthenticator struct{}

func (TrustingAuthenticator) Authenticate(_ context.Context, creds Credentials) (string, error) {
	if creds.OwnerID == "" {
		return "", ErrNoCredentials
	}
	return creds.OwnerID, nil
}
