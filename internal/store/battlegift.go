package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BattleGift is one battle-scoped gift transaction. The monetary ledger lives
// upstream; this record only scopes the gift to its match for battle history.
type BattleGift struct {
	ID           int64
	MatchID      string
	SenderID     string
	ReceiverTeam string
	GiftID       string
	AmountSEK    int64
	CreatedAt    time.Time
}

type BattleGiftStore struct {
	db *pgxpool.Pool
}

func NewBattleGiftStore(db *pgxpool.Pool) *BattleGiftStore {
	return &BattleGiftStore{db: db}
}

func (s *BattleGiftStore) Record(ctx context.Context, matchID, senderID, receiverTeam, giftID string, amountSEK int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO battle_gifts (match_id, sender_id, receiver_team, gift_id, amount_sek)
		VALUES ($1, $2, $3, $4, $5)
	`, matchID, senderID, receiverTeam, giftID, amountSEK)
	return err
}

func (s *BattleGiftStore) MatchHistory(ctx context.Context, matchID string, limit int) ([]BattleGift, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, match_id, sender_id, receiver_team, gift_id, amount_sek, created_at
		FROM battle_gifts WHERE match_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, matchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BattleGift
	for rows.Next() {
		var g BattleGift
		if err := rows.Scan(&g.ID, &g.MatchID, &g.SenderID, &g.ReceiverTeam, &g.GiftID, &g.AmountSEK, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
