package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-invoicing/internal/db"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

const invoiceColumns = `id, client_name, client_id, episode_title, episode_type,
	earned_after_fees, invoiced_amount, billed_minutes,
	length_hours, length_minutes, length_seconds,
	editing_hours, editing_minutes, editing_seconds,
	billable_hours, running_hourly_total, rate_per_minute,
	payment_method, stripe_customer_id, stripe_payment_intent_id, charge_attempts,
	date_invoiced, date_paid, note, created_at, updated_at`

// Invoices persists invoice documents.
type Invoices struct {
	DB *db.Lazy
}

// FindByID returns the invoice with the given id.
func (s Invoices) FindByID(ctx context.Context, id string) (Invoice, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Invoice{}, err
	}
	row := pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// FindByClientID returns the client's invoices, newest first.
func (s Invoices) FindByClientID(ctx context.Context, clientID string) ([]Invoice, error) {
	return s.query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
}

// FindAll lists every invoice: invoiced ones first, then by the more relevant
// of date_invoiced/created_at, descending.
func (s Invoices) FindAll(ctx context.Context) ([]Invoice, error) {
	return s.query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		ORDER BY (date_invoiced IS NOT NULL) DESC, COALESCE(date_invoiced, created_at) DESC`)
}

// Create inserts a new pending invoice, assigning an id when absent.
func (s Invoices) Create(ctx context.Context, inv Invoice) (Invoice, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Invoice{}, err
	}
	if inv.ID == "" {
		inv.ID = NewID()
	}
	row := pool.QueryRow(ctx, `INSERT INTO invoices (
			id, client_name, client_id, episode_title, episode_type,
			earned_after_fees, invoiced_amount, billed_minutes,
			length_hours, length_minutes, length_seconds,
			editing_hours, editing_minutes, editing_seconds,
			billable_hours, running_hourly_total, rate_per_minute,
			date_invoiced, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING `+invoiceColumns,
		inv.ID, inv.ClientName, inv.ClientID, inv.EpisodeTitle, inv.EpisodeType,
		inv.EarnedAfterFees, inv.InvoicedAmount, inv.BilledMinutes,
		inv.Length.Hours, inv.Length.Minutes, inv.Length.Seconds,
		inv.EditingTime.Hours, inv.EditingTime.Minutes, inv.EditingTime.Seconds,
		inv.BillableHours, inv.RunningHourlyTotal, inv.RatePerMinute,
		inv.DateInvoiced, inv.Note)
	return scanInvoice(row)
}

// InvoicePatch carries the partially updatable invoice fields.
type InvoicePatch struct {
	EpisodeTitle       *string
	EpisodeType        *string
	EarnedAfterFees    *float64
	InvoicedAmount     *float64
	BilledMinutes      *float64
	Length             *Clip
	EditingTime        *Clip
	BillableHours      *float64
	RunningHourlyTotal *float64
	RatePerMinute      *float64
	DateInvoiced       *time.Time
	Note               *string
}

// UpdateFields applies a partial update and returns the updated invoice.
func (s Invoices) UpdateFields(ctx context.Context, id string, patch InvoicePatch) (Invoice, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Invoice{}, err
	}
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.EpisodeTitle != nil {
		add("episode_title", *patch.EpisodeTitle)
	}
	if patch.EpisodeType != nil {
		add("episode_type", *patch.EpisodeType)
	}
	if patch.EarnedAfterFees != nil {
		add("earned_after_fees", *patch.EarnedAfterFees)
	}
	if patch.InvoicedAmount != nil {
		add("invoiced_amount", *patch.InvoicedAmount)
	}
	if patch.BilledMinutes != nil {
		add("billed_minutes", *patch.BilledMinutes)
	}
	if patch.Length != nil {
		add("length_hours", patch.Length.Hours)
		add("length_minutes", patch.Length.Minutes)
		add("length_seconds", patch.Length.Seconds)
	}
	if patch.EditingTime != nil {
		add("editing_hours", patch.EditingTime.Hours)
		add("editing_minutes", patch.EditingTime.Minutes)
		add("editing_seconds", patch.EditingTime.Seconds)
	}
	if patch.BillableHours != nil {
		add("billable_hours", *patch.BillableHours)
	}
	if patch.RunningHourlyTotal != nil {
		add("running_hourly_total", *patch.RunningHourlyTotal)
	}
	if patch.RatePerMinute != nil {
		add("rate_per_minute", *patch.RatePerMinute)
	}
	if patch.DateInvoiced != nil {
		add("date_invoiced", *patch.DateInvoiced)
	}
	if patch.Note != nil {
		add("note", *patch.Note)
	}
	row := pool.QueryRow(ctx, `UPDATE invoices SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 RETURNING `+invoiceColumns, args...)
	return scanInvoice(row)
}

// SetStripeCustomerID assigns the gateway customer id only while none is set.
// Returns true when this call won the assignment.
func (s Invoices) SetStripeCustomerID(ctx context.Context, id, customerID string) (bool, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `UPDATE invoices
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1 AND stripe_customer_id IS NULL`, id, customerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordPaymentIntent remembers the latest gateway intent created for the
// invoice so the reconciliation sweep can verify it later.
func (s Invoices) RecordPaymentIntent(ctx context.Context, id, intentID string) error {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `UPDATE invoices
		SET stripe_payment_intent_id = $2, updated_at = now()
		WHERE id = $1`, id, intentID)
	return err
}

// IncrementChargeAttempts bumps and returns the invoice's charge attempt
// counter, used to derive gateway idempotency keys.
func (s Invoices) IncrementChargeAttempts(ctx context.Context, id string) (int, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = pool.QueryRow(ctx, `UPDATE invoices
		SET charge_attempts = charge_attempts + 1, updated_at = now()
		WHERE id = $1 RETURNING charge_attempts`, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// MarkPaid sets date_paid/payment_method only while the invoice is unpaid.
// Returns true when this call won the transition; a false result means the
// invoice was already reconciled by another path.
func (s Invoices) MarkPaid(ctx context.Context, id, method string) (bool, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `UPDATE invoices
		SET date_paid = now(), payment_method = $2, updated_at = now()
		WHERE id = $1 AND date_paid IS NULL`, id, method)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListPendingWithIntent returns unpaid invoices that have a gateway intent on
// record, oldest update first, for the reconciliation sweep.
func (s Invoices) ListPendingWithIntent(ctx context.Context, limit int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE date_paid IS NULL AND stripe_payment_intent_id IS NOT NULL
		ORDER BY updated_at ASC LIMIT $1`, limit)
}

// ReassignClient moves every invoice from one client to another; used by the
// duplicate-client merge utility. Returns the number of reassigned invoices.
func (s Invoices) ReassignClient(ctx context.Context, fromClientID, toClientID string) (int64, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `UPDATE invoices
		SET client_id = $2, updated_at = now()
		WHERE client_id = $1`, fromClientID, toClientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s Invoices) query(ctx context.Context, sql string, args ...any) ([]Invoice, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv                                 Invoice
		paymentMethod, customerID, intentID pgtype.Text
		dateInvoiced, datePaid              pgtype.Timestamptz
	)
	err := row.Scan(
		&inv.ID, &inv.ClientName, &inv.ClientID, &inv.EpisodeTitle, &inv.EpisodeType,
		&inv.EarnedAfterFees, &inv.InvoicedAmount, &inv.BilledMinutes,
		&inv.Length.Hours, &inv.Length.Minutes, &inv.Length.Seconds,
		&inv.EditingTime.Hours, &inv.EditingTime.Minutes, &inv.EditingTime.Seconds,
		&inv.BillableHours, &inv.RunningHourlyTotal, &inv.RatePerMinute,
		&paymentMethod, &customerID, &intentID, &inv.ChargeAttempts,
		&dateInvoiced, &datePaid, &inv.Note, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.PaymentMethod = paymentMethod.String
	inv.StripeCustomerID = customerID.String
	inv.StripePaymentIntentID = intentID.String
	if dateInvoiced.Valid {
		t := dateInvoiced.Time
		inv.DateInvoiced = &t
	}
	if datePaid.Valid {
		t := datePaid.Time
		inv.DatePaid = &t
	}
	inv.ID = strings.TrimSpace(inv.ID)
	inv.ClientID = strings.TrimSpace(inv.ClientID)
	return inv, nil
}
