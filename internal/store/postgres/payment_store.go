package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// PaymentStore implements domain.PaymentStore on payment_sessions, with
// provisioning claims kept in their own table.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore creates a new PaymentStore backed by the given connection
// pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const sessionColumns = `id, trader, offer, tx_hash, state, confirmation_state,
	provisioning_invoked, stale, failure_kind, error, block_number, provisioning_data,
	created_at, updated_at, submitted_at, confirmed_at, completed_at`

// Save upserts the session. provisioning_invoked never reverts to false.
func (s *PaymentStore) Save(ctx context.Context, ps domain.PaymentSession) error {
	offerJSON, err := json.Marshal(ps.Offer)
	if err != nil {
		return fmt.Errorf("postgres/payment_store: marshal offer: %w", err)
	}
	var dataJSON []byte
	if ps.ProvisioningData != nil {
		if dataJSON, err = json.Marshal(ps.ProvisioningData); err != nil {
			return fmt.Errorf("postgres/payment_store: marshal provisioning data: %w", err)
		}
	}
	var txHash *string
	if ps.TransactionHash != "" {
		h := strings.ToLower(ps.TransactionHash)
		txHash = &h
	}

	const query = `
		INSERT INTO payment_sessions (
			id, trader, phase, exam_type, evaluation_type_id, price, offer,
			tx_hash, state, confirmation_state, provisioning_invoked, stale,
			failure_kind, error, block_number, provisioning_data,
			created_at, updated_at, submitted_at, confirmed_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash              = COALESCE(EXCLUDED.tx_hash, payment_sessions.tx_hash),
			state                = EXCLUDED.state,
			confirmation_state   = EXCLUDED.confirmation_state,
			provisioning_invoked = payment_sessions.provisioning_invoked OR EXCLUDED.provisioning_invoked,
			stale                = EXCLUDED.stale,
			failure_kind         = EXCLUDED.failure_kind,
			error                = EXCLUDED.error,
			block_number         = EXCLUDED.block_number,
			provisioning_data    = EXCLUDED.provisioning_data,
			updated_at           = EXCLUDED.updated_at,
			submitted_at         = EXCLUDED.submitted_at,
			confirmed_at         = EXCLUDED.confirmed_at,
			completed_at         = EXCLUDED.completed_at`

	_, err = s.pool.Exec(ctx, query,
		ps.ID, ps.Trader, string(ps.Offer.Phase), ps.Offer.ExamType,
		int64(ps.Offer.EvaluationTypeID), ps.Offer.Price.String(), offerJSON,
		txHash, string(ps.State), string(ps.ConfirmationState), ps.ProvisioningInvoked, ps.Stale,
		string(ps.FailureKind), ps.Error, int64(ps.BlockNumber), dataJSON,
		ps.CreatedAt, ps.UpdatedAt, ps.SubmittedAt, ps.ConfirmedAt, ps.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres/payment_store: save %s: %w", ps.ID, err)
	}
	return nil
}

// GetByID returns the session or domain.ErrNotFound.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (domain.PaymentSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id)
	ps, err := scanSession(row)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("postgres/payment_store: get %s: %w", id, err)
	}
	return ps, nil
}

// GetByTxHash returns the session that paid with txHash or
// domain.ErrNotFound.
func (s *PaymentStore) GetByTxHash(ctx context.Context, txHash string) (domain.PaymentSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE tx_hash = $1`,
		strings.ToLower(txHash))
	ps, err := scanSession(row)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("postgres/payment_store: get by hash %s: %w", txHash, err)
	}
	return ps, nil
}

// ClaimProvisioning records the first provisioning attempt for txHash.
func (s *PaymentStore) ClaimProvisioning(ctx context.Context, txHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO provision_claims (tx_hash) VALUES ($1) ON CONFLICT (tx_hash) DO NOTHING`,
		strings.ToLower(txHash))
	if err != nil {
		return false, fmt.Errorf("postgres/payment_store: claim %s: %w", txHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListNeedingRecovery returns confirmed payments whose provisioning failed,
// newest first.
func (s *PaymentStore) ListNeedingRecovery(ctx context.Context, opts domain.ListOpts) ([]domain.PaymentSession, error) {
	var f filter
	f.where("state = %s", string(domain.PaymentFailed))
	f.where("failure_kind = %s", string(domain.FailureProvisioning))
	f.window("updated_at", opts)
	return s.list(ctx, &f, opts)
}

// ListByTrader returns the trader's sessions, newest first.
func (s *PaymentStore) ListByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.PaymentSession, error) {
	var f filter
	f.where("LOWER(trader) = LOWER(%s)", trader)
	f.window("created_at", opts)
	return s.list(ctx, &f, opts)
}

func (s *PaymentStore) list(ctx context.Context, f *filter, opts domain.ListOpts) ([]domain.PaymentSession, error) {
	query, args := f.build(`SELECT `+sessionColumns+` FROM payment_sessions`, "created_at DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres/payment_store: list: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentSession
	for rows.Next() {
		ps, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres/payment_store: list: %w", err)
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres/payment_store: rows: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (domain.PaymentSession, error) {
	var (
		ps                  domain.PaymentSession
		offerJSON, dataJSON []byte
		txHash              *string
		state, confState    string
		failureKind         string
		block               int64
		submitted           *time.Time
		confirmed           *time.Time
		completed           *time.Time
	)
	err := row.Scan(&ps.ID, &ps.Trader, &offerJSON, &txHash, &state, &confState,
		&ps.ProvisioningInvoked, &ps.Stale, &failureKind, &ps.Error, &block, &dataJSON,
		&ps.CreatedAt, &ps.UpdatedAt, &submitted, &confirmed, &completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaymentSession{}, domain.ErrNotFound
		}
		return domain.PaymentSession{}, fmt.Errorf("scan: %w", err)
	}

	if err := json.Unmarshal(offerJSON, &ps.Offer); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("unmarshal offer: %w", err)
	}
	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &ps.ProvisioningData); err != nil {
			return domain.PaymentSession{}, fmt.Errorf("unmarshal provisioning data: %w", err)
		}
	}
	if txHash != nil {
		ps.TransactionHash = *txHash
	}
	ps.State = domain.PaymentState(state)
	ps.ConfirmationState = domain.ConfirmationState(confState)
	ps.FailureKind = domain.FailureKind(failureKind)
	ps.BlockNumber = uint64(block)
	ps.SubmittedAt, ps.ConfirmedAt, ps.CompletedAt = submitted, confirmed, completed
	return ps, nil
}

var _ domain.PaymentStore = (*PaymentStore)(nil)
