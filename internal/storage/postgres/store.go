package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"raffleScope/internal/model"
	"raffleScope/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for raffle projections.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertRaffle inserts a raffle; an existing id is left untouched.
func (s *Store) InsertRaffle(ctx context.Context, r model.Raffle) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO raffles (
			raffle_id, creator, nft_contract, token_id, ticket_price, max_tickets, tickets_sold,
			start_time, end_time, payment_type, payment_denom, payment_cw20, revenue_address, status,
			created_height, create_tx_hash, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
		ON CONFLICT (raffle_id) DO NOTHING
	`,
		r.RaffleID,
		r.Creator,
		r.NFTContract,
		r.TokenID,
		r.TicketPrice,
		int64(r.MaxTickets),
		int64(r.TicketsSold),
		r.StartTime,
		r.EndTime,
		string(r.PaymentType),
		r.PaymentDenom,
		r.PaymentCW20,
		r.RevenueAddress,
		string(r.Status),
		int64(r.CreatedHeight),
		r.CreateTxHash,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordPurchase stores a purchase and folds it into the participant and raffle rows
// in one transaction. A purchase seen before changes nothing.
func (s *Store) RecordPurchase(ctx context.Context, p model.TicketPurchase) (bool, error) {
	paid, err := decimal.NewFromString(p.TotalPaid)
	if err != nil {
		return false, fmt.Errorf("total paid %q: %w", p.TotalPaid, err)
	}

	var inserted bool
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ticket_purchases (
				tx_hash, event_index, raffle_id, buyer, quantity, total_paid, denom, height, purchased_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (tx_hash, event_index) DO NOTHING
		`,
			p.TxHash,
			p.EventIndex,
			p.RaffleID,
			p.Buyer,
			int64(p.Quantity),
			p.TotalPaid,
			p.Denom,
			int64(p.Height),
			p.PurchasedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true

		total := paid
		var prev string
		err = tx.QueryRow(ctx, `
			SELECT total_paid FROM participants WHERE raffle_id=$1 AND address=$2 FOR UPDATE
		`, p.RaffleID, p.Buyer).Scan(&prev)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			prevDec, err := decimal.NewFromString(prev)
			if err != nil {
				return fmt.Errorf("participant total %q: %w", prev, err)
			}
			total = prevDec.Add(paid)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO participants (
				raffle_id, address, ticket_count, total_paid, first_purchase, last_purchase, payment_denom
			) VALUES ($1,$2,$3,$4,$5,$5,$6)
			ON CONFLICT (raffle_id, address)
			DO UPDATE SET
				ticket_count = participants.ticket_count + EXCLUDED.ticket_count,
				total_paid = $4,
				first_purchase = LEAST(participants.first_purchase, EXCLUDED.first_purchase),
				last_purchase = GREATEST(participants.last_purchase, EXCLUDED.last_purchase)
		`,
			p.RaffleID,
			p.Buyer,
			int64(p.Quantity),
			total.String(),
			p.PurchasedAt,
			p.Denom,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE raffles
			SET tickets_sold = CASE WHEN max_tickets > 0 THEN LEAST(tickets_sold + $2, max_tickets) ELSE tickets_sold + $2 END,
				updated_at = now()
			WHERE raffle_id = $1
		`, p.RaffleID, int64(p.Quantity))
		return err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *Store) MarkRaffleEnded(ctx context.Context, raffleID string, e model.RaffleEnding) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raffles
		SET status = $2, end_reason = $3, randomness_round = $4, ended_height = $5, end_tx_hash = $6, updated_at = now()
		WHERE raffle_id = $1
	`, raffleID, string(model.StatusCompleted), string(e.EndReason), int64(e.RandomnessRound), int64(e.Height), e.TxHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SetRaffleWinner(ctx context.Context, raffleID, winner string, ticketIndex uint64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raffles SET winner = $2, winning_ticket_index = $3, updated_at = now()
		WHERE raffle_id = $1
	`, raffleID, winner, int64(ticketIndex))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkRaffleCancelled(ctx context.Context, raffleID string, height uint64, txHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raffles SET status = $2, ended_height = $3, end_tx_hash = $4, updated_at = now()
		WHERE raffle_id = $1
	`, raffleID, string(model.StatusCancelled), int64(height), txHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteSettlement(ctx context.Context, raffleID string, st model.Settlement) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE raffles
		SET status = $2, winner = $3, winning_ticket_index = $4, randomness_round = $5, end_reason = $6,
			end_tx_hash = $7, ended_height = $8, tickets_sold = CASE WHEN max_tickets > 0 THEN LEAST($9, max_tickets) ELSE $9 END, updated_at = now()
		WHERE raffle_id = $1
	`,
		raffleID,
		string(model.StatusCompleted),
		st.Winner,
		int64(st.WinningTicketIndex),
		int64(st.RandomnessRound),
		string(st.EndReason),
		st.TxHash,
		int64(st.Height),
		int64(st.TicketsSold),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("raffle %s not found", raffleID)
	}
	return nil
}

func (s *Store) ReconcileRaffle(ctx context.Context, raffleID string, snap model.LedgerSnapshot) error {
	var endReason *string
	if snap.Status == model.StatusCompleted {
		reason := string(storage.ReconciledEndReason(snap))
		endReason = &reason
	}
	var status *string
	if snap.Status != "" {
		st := string(snap.Status)
		status = &st
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE raffles
		SET status = COALESCE($2, status),
			winner = COALESCE($3, winner),
			tickets_sold = CASE WHEN max_tickets > 0 THEN LEAST($4, max_tickets) ELSE $4 END,
			end_reason = COALESCE(end_reason, $5),
			updated_at = now()
		WHERE raffle_id = $1
	`, raffleID, status, snap.Winner, int64(snap.TicketsSold), endReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("raffle %s not found", raffleID)
	}
	return nil
}

const raffleColumns = `raffle_id, creator, nft_contract, token_id, ticket_price, max_tickets, tickets_sold,
	start_time, end_time, payment_type, payment_denom, payment_cw20, revenue_address, status,
	winner, winning_ticket_index, randomness_round, end_reason, created_height, ended_height,
	create_tx_hash, end_tx_hash, created_at, updated_at`

func (s *Store) GetRaffle(ctx context.Context, raffleID string) (model.Raffle, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE raffle_id=$1`, raffleID)
	r, err := scanRaffle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Raffle{}, false, nil
		}
		return model.Raffle{}, false, err
	}
	return r, true, nil
}

func (s *Store) ListRaffles(ctx context.Context, f model.RaffleFilter) ([]model.Raffle, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Creator != "" {
		args = append(args, f.Creator)
		conds = append(conds, fmt.Sprintf("creator = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raffles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + raffleColumns + ` FROM raffles` + where + ` ORDER BY created_height DESC, raffle_id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	out, err := s.queryRaffles(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListEligible(ctx context.Context, now time.Time, buffer time.Duration) ([]model.Raffle, error) {
	return s.queryRaffles(ctx, `
		SELECT `+raffleColumns+` FROM raffles
		WHERE status = $1 AND tickets_sold > 0 AND (end_time <= $2 OR (max_tickets > 0 AND tickets_sold >= max_tickets))
		ORDER BY end_time ASC, raffle_id ASC
	`, string(model.StatusActive), now.Add(-buffer))
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]model.Raffle, error) {
	return s.queryRaffles(ctx, `
		SELECT `+raffleColumns+` FROM raffles
		WHERE status = $1 AND tickets_sold > 0 AND end_time <= $2
		ORDER BY end_time ASC, raffle_id ASC
	`, string(model.StatusActive), now)
}

func (s *Store) ListParticipants(ctx context.Context, raffleID string, limit, offset int) ([]model.Participant, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM participants WHERE raffle_id=$1`, raffleID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = total
	}
	rows, err := s.pool.Query(ctx, `
		SELECT raffle_id, address, ticket_count, total_paid, first_purchase, last_purchase, payment_denom
		FROM participants WHERE raffle_id=$1
		ORDER BY ticket_count DESC, address ASC
		LIMIT $2 OFFSET $3
	`, raffleID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Participant, 0)
	for rows.Next() {
		var (
			p     model.Participant
			count int64
		)
		if err := rows.Scan(&p.RaffleID, &p.Address, &count, &p.TotalPaid, &p.FirstPurchase, &p.LastPurchase, &p.PaymentDenom); err != nil {
			return nil, 0, err
		}
		p.TicketCount = uint64(count)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// LoadState returns last_processed_height for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var height int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_height FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(height), true, nil
}

// SaveState upserts last_processed_height for a name.
func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_height, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_height = EXCLUDED.last_processed_height, updated_at = now()
	`, name, int64(value))
	return err
}

func (s *Store) queryRaffles(ctx context.Context, query string, args ...interface{}) ([]model.Raffle, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Raffle, 0)
	for rows.Next() {
		r, err := scanRaffle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRaffle(row pgx.Row) (model.Raffle, error) {
	var (
		r                                model.Raffle
		maxTickets, sold, createdHeight  int64
		paymentType, status              string
		winner, endReason, endTxHash     *string
		winningIndex, round, endedHeight *int64
	)
	err := row.Scan(
		&r.RaffleID, &r.Creator, &r.NFTContract, &r.TokenID, &r.TicketPrice, &maxTickets, &sold,
		&r.StartTime, &r.EndTime, &paymentType, &r.PaymentDenom, &r.PaymentCW20, &r.RevenueAddress, &status,
		&winner, &winningIndex, &round, &endReason, &createdHeight, &endedHeight,
		&r.CreateTxHash, &endTxHash, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.Raffle{}, err
	}

	r.MaxTickets = uint64(maxTickets)
	r.TicketsSold = uint64(sold)
	r.CreatedHeight = uint64(createdHeight)
	r.PaymentType = model.PaymentType(paymentType)
	r.Status = model.RaffleStatus(status)
	r.Winner = winner
	r.EndTxHash = endTxHash
	r.WinningTicketIndex = optUint(winningIndex)
	r.RandomnessRound = optUint(round)
	r.EndedHeight = optUint(endedHeight)
	if endReason != nil {
		reason := model.EndReason(*endReason)
		r.EndReason = &reason
	}
	return r, nil
}

func optUint(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}
