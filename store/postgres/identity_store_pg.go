package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NomadCrew/nomad-realtime/internal/identity"
	"github.com/jackc/pgx/v5"
)

// IdentityStore maps external auth-provider ids to store-native user ids
// through the user_identities table.
type IdentityStore struct {
	db DBTX
}

var _ identity.AliasLookup = (*IdentityStore)(nil)

func NewIdentityStore(db DBTX) *IdentityStore {
	return &IdentityStore{db: db}
}

// LookupAlias returns identity.ErrNoAlias when externalID is not linked.
func (s *IdentityStore) LookupAlias(ctx context.Context, externalID string) (string, error) {
	var userID string
	err := s.db.QueryRow(ctx, `SELECT user_id FROM user_identities WHERE external_id = $1`, externalID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", identity.ErrNoAlias
		}
		return "", fmt.Errorf("failed to look up identity alias: %w", err)
	}
	return userID, nil
}

// Link records externalID as an alias of userID, replacing any previous link.
func (s *IdentityStore) Link(ctx context.Context, externalID, userID string) error {
	query := `INSERT INTO user_identities (external_id, user_id)
	          VALUES ($1, $2)
	          ON CONFLICT (external_id) DO UPDATE SET user_id = EXCLUDED.user_id`
	if _, err := s.db.Exec(ctx, query, externalID, userID); err != nil {
		return fmt.Errorf("failed to link identity alias: %w", err)
	}
	return nil
}
