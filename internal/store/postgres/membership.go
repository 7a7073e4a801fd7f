package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const chatMembersQuery = `SELECT user_id FROM chat_users WHERE chat_id = $1 ORDER BY user_id`

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MembershipStore answers which users belong to a chat.
type MembershipStore struct {
	db Querier
}

// NewMembershipStore reads membership through db.
func NewMembershipStore(db Querier) *MembershipStore {
	return &MembershipStore{db: db}
}

// ChatMembers returns the user ids of chatID. An unknown chat yields an
// empty slice.
func (s *MembershipStore) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.Query(ctx, chatMembersQuery, chatID)
	if err != nil {
		return nil, fmt.Errorf("query chat %s members: %w", chatID, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan chat %s members: %w", chatID, err)
	}
	return ids, nil
}
