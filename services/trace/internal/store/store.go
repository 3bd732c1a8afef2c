// Package store is the off-chain record store for Traces and Campaigns. It
// mirrors on-chain state and is patched, never replaced, on each confirmed
// transition; readers tolerate a staleness window until the next sync.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tracelane/pkg/domain"
)

// TracePatch is a partial update. Nil fields are left untouched.
type TracePatch struct {
	Status        *domain.TraceStatus
	Message       *string
	EvidenceRef   *string
	PluginAddress *string
	ProjectID     *int64
	FullyFunded   *bool
}

// RecordStore is the persistence surface the orchestrator and pipeline need.
type RecordStore interface {
	GetTrace(ctx context.Context, id string) (*domain.Trace, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	CreateTrace(ctx context.Context, t *domain.Trace) error
	DeleteTrace(ctx context.Context, id string) error
	PatchTrace(ctx context.Context, id string, p TracePatch) error
	// SetPendingTx records the in-flight transaction marker. It fails with
	// domain.ErrTransitionInFlight if another marker is already set.
	SetPendingTx(ctx context.Context, id, txHash string) error
	ClearPendingTx(ctx context.Context, id string) error
}

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const traceColumns = `trace_id,title,slug,status,flavor,owner_address,recipient_address,reviewer_address,
campaign_reviewer_address,campaign_id,plugin_address,project_id,token_symbol,amount,cap,fully_funded,
pending_tx_hash,message,evidence_ref,created_at,updated_at`

func scanTrace(row pgx.Row) (*domain.Trace, error) {
	var t domain.Trace
	err := row.Scan(&t.ID, &t.Title, &t.Slug, &t.Status, &t.Flavor, &t.OwnerAddress, &t.RecipientAddress,
		&t.ReviewerAddress, &t.CampaignReviewerAddress, &t.CampaignID, &t.PluginAddress, &t.ProjectID,
		&t.TokenSymbol, &t.Amount, &t.Cap, &t.FullyFunded, &t.PendingTxHash, &t.Message, &t.EvidenceRef,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTraceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTrace(ctx context.Context, id string) (*domain.Trace, error) {
	t, err := scanTrace(s.DB.QueryRow(ctx, `SELECT `+traceColumns+` FROM traces WHERE trace_id=$1`, id))
	if err != nil {
		return nil, err
	}
	counters, err := s.donationCounters(ctx, id)
	if err != nil {
		return nil, err
	}
	t.DonationCounters = counters
	return t, nil
}

func (s *Store) donationCounters(ctx context.Context, traceID string) ([]domain.DonationCounter, error) {
	rows, err := s.DB.Query(ctx, `SELECT token_symbol,decimals,total_donated,current_balance,donation_count
FROM trace_donation_counters WHERE trace_id=$1 ORDER BY token_symbol`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DonationCounter
	for rows.Next() {
		var c domain.DonationCounter
		if err := rows.Scan(&c.TokenSymbol, &c.Decimals, &c.TotalDonated, &c.CurrentBalance, &c.DonationCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := s.DB.QueryRow(ctx, `SELECT campaign_id,title,status,owner_address,coowner_address,delegate_addresses
FROM campaigns WHERE campaign_id=$1`, id).
		Scan(&c.ID, &c.Title, &c.Status, &c.OwnerAddress, &c.CoownerAddress, &c.DelegateAddresses)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateTrace(ctx context.Context, t *domain.Trace) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO traces(`+traceColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.Title, t.Slug, t.Status, t.Flavor, t.OwnerAddress, t.RecipientAddress, t.ReviewerAddress,
		t.CampaignReviewerAddress, t.CampaignID, t.PluginAddress, t.ProjectID, t.TokenSymbol, t.Amount,
		t.Cap, t.FullyFunded, t.PendingTxHash, t.Message, t.EvidenceRef, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *Store) DeleteTrace(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM traces WHERE trace_id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTraceNotFound
	}
	return nil
}

// PatchTrace applies the non-nil fields of the patch. The record is patched,
// not replaced: untouched columns keep their values.
func (s *Store) PatchTrace(ctx context.Context, id string, p TracePatch) error {
	sets := []string{"updated_at=$2"}
	args := []any{id, time.Now().UTC()}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Message != nil {
		add("message", *p.Message)
	}
	if p.EvidenceRef != nil {
		add("evidence_ref", *p.EvidenceRef)
	}
	if p.PluginAddress != nil {
		add("plugin_address", *p.PluginAddress)
	}
	if p.ProjectID != nil {
		add("project_id", *p.ProjectID)
	}
	if p.FullyFunded != nil {
		add("fully_funded", *p.FullyFunded)
	}
	q := `UPDATE traces SET ` + strings.Join(sets, ",") + ` WHERE trace_id=$1`
	tag, err := s.DB.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTraceNotFound
	}
	return nil
}

func (s *Store) SetPendingTx(ctx context.Context, id, txHash string) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE traces SET pending_tx_hash=$2, updated_at=now() WHERE trace_id=$1 AND pending_tx_hash=''`,
		id, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the trace is gone or another transition holds the marker.
		if _, gerr := scanTrace(s.DB.QueryRow(ctx, `SELECT `+traceColumns+` FROM traces WHERE trace_id=$1`, id)); gerr != nil {
			return gerr
		}
		return domain.ErrTransitionInFlight
	}
	return nil
}

func (s *Store) ClearPendingTx(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `UPDATE traces SET pending_tx_hash='', updated_at=now() WHERE trace_id=$1`, id)
	return err
}
