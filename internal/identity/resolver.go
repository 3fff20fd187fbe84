// Package identity normalizes owner identities. Users are addressed either by
// their store-native UUID or by an id issued by an external auth provider;
// both must land on the same canonical string before they are compared, used
// as a room key or used as a cache key.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

var (
	// ErrUnresolvable is returned for ids that cannot name any user.
	ErrUnresolvable = errors.New("identity: unresolvable owner id")
	// ErrNoAlias is returned by an AliasLookup that has no mapping.
	ErrNoAlias = errors.New("identity: no alias")
)

const maxIDLength = 255

// Resolver maps any accepted form of an owner id to its canonical form.
type Resolver interface {
	Canonical(ctx context.Context, raw string) (string, error)
}

// AliasLookup maps an external-provider id to a store-native id.
type AliasLookup interface {
	LookupAlias(ctx context.Context, externalID string) (string, error)
}

// Normalize trims the id and lower-cases UUIDs into their canonical text form.
func Normalize(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxIDLength {
		return "", ErrUnresolvable
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", ErrUnresolvable
		}
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String(), nil
	}
	return id, nil
}

// NormalizingResolver only applies Normalize.
type NormalizingResolver struct{}

func (NormalizingResolver) Canonical(_ context.Context, raw string) (string, error) {
	return Normalize(raw)
}

// AliasResolver resolves external ids through an AliasLookup and remembers
// successful mappings. Ids without an alias are their own canonical form.
type AliasResolver struct {
	lookup AliasLookup

	mu    sync.RWMutex
	known map[string]string
}

func NewAliasResolver(lookup AliasLookup) *AliasResolver {
	return &AliasResolver{
		lookup: lookup,
		known:  make(map[string]string),
	}
}

func (r *AliasResolver) Canonical(ctx context.Context, raw string) (string, error) {
	id, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err == nil {
		return id, nil
	}

	r.mu.RLock()
	native, ok := r.known[id]
	r.mu.RUnlock()
	if ok {
		return native, nil
	}

	native, err = r.lookup.LookupAlias(ctx, id)
	if errors.Is(err, ErrNoAlias) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	native, err = Normalize(native)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.known[id] = native
	r.mu.Unlock()
	return native, nil
}

// Forget drops a remembered mapping, e.g. after an account relink.
func (r *AliasResolver) Forget(externalID string) {
	id, err := Normalize(externalID)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.known, id)
	r.mu.Unlock()
}

// StaticAliases is an in-memory AliasLookup.
type StaticAliases map[string]string

func (s StaticAliases) LookupAlias(_ context.Context, externalID string) (string, error) {
	if native, ok := s[externalID]; ok {
		return native, nil
	}
	return "", ErrNoAlias
}

// Equal reports whether a and b denote the same user under r.
// Unresolvable ids are never equal to anything.
func Equal(ctx context.Context, r Resolver, a, b string) bool {
	ca, err := r.Canonical(ctx, a)
	if err != nil {
		return false
	}
	cb, err := r.Canonical(ctx, b)
	if err != nil {
		return false
	}
	return ca == cb
}
