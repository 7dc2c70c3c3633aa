/**
 * @description
 * PostgreSQL implementation of the Repository interface. A charge spans three
 * tables (service_charges, service_charge_affected_users and
 * service_charge_payments); reads assemble the aggregate and writes touch only
 * the rows an operation owns.
 *
 * Payment transitions lock the owning charge row with SELECT ... FOR UPDATE and
 * then apply a status-conditional UPDATE, so a verification racing a webhook for
 * the same reference can never settle twice.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: settlement rules applied inside the transaction.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/estatehub/settlement-service/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const chargeColumns = `id::text, estate_id, title, description, amount, currency, type, category,
	status, due_date, created_by, admin_override, version, created_at, updated_at`

const paymentColumns = `id::text, service_charge_id::text, reference, provider, provider_reference, amount,
	status, paid_by, paid_at, metadata::text, created_at, updated_at`

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetUser retrieves the stored role and contact details of a user.
func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	var role string
	err := r.db.QueryRow(ctx, `SELECT id, email, name, role, estate_id FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Email, &user.Name, &role, &user.EstateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, err
	}
	user.Role = domain.Role(role)
	return &user, nil
}

// CreateServiceCharge inserts a new charge and its affected users.
func (r *PostgresRepository) CreateServiceCharge(ctx context.Context, charge *domain.ServiceCharge) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if charge.Version == 0 {
		charge.Version = 1
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO service_charges (id, estate_id, title, description, amount, currency, type, category,
			status, due_date, created_by, admin_override, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		charge.ID, charge.EstateID, charge.Title, charge.Description, charge.Amount, charge.Currency,
		string(charge.Type), string(charge.Category), string(charge.Status), charge.DueDate, charge.CreatedBy,
		charge.AdminOverride, charge.Version, charge.CreatedAt, charge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert service charge: %w", err)
	}
	if err := replaceAffectedUsers(ctx, tx, charge.ID, charge.AffectedUsers); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetServiceCharge loads a full charge aggregate by id.
func (r *PostgresRepository) GetServiceCharge(ctx context.Context, chargeID string) (*domain.ServiceCharge, error) {
	return loadCharge(ctx, r.db, chargeID)
}

// FindByPaymentReference loads the charge owning the payment with reference.
func (r *PostgresRepository) FindByPaymentReference(ctx context.Context, reference string) (*domain.ServiceCharge, error) {
	var chargeID string
	err := r.db.QueryRow(ctx, `SELECT service_charge_id::text FROM service_charge_payments WHERE reference = $1`, reference).Scan(&chargeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
		}
		return nil, err
	}
	return loadCharge(ctx, r.db, chargeID)
}

// ListServiceCharges returns charges of an estate, newest first.
func (r *PostgresRepository) ListServiceCharges(ctx context.Context, params ListChargesParams) ([]domain.ServiceCharge, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if params.EstateID != "" {
		add("estate_id = $%d", params.EstateID)
	}
	if params.Status != "" {
		add("status = $%d", string(params.Status))
	}
	if params.AffectedUserID != "" {
		args = append(args, params.AffectedUserID)
		n := len(args)
		where = append(where, fmt.Sprintf(`(created_by = $%d OR EXISTS (
			SELECT 1 FROM service_charge_affected_users au
			WHERE au.service_charge_id = service_charges.id AND au.user_id = $%d))`, n, n))
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := "SELECT " + chargeColumns + " FROM service_charges"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, max(params.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	charges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ServiceCharge, error) {
		c, err := scanCharge(row)
		if err != nil {
			return domain.ServiceCharge{}, err
		}
		return *c, nil
	})
	if err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return charges, nil
	}

	ids := make([]string, len(charges))
	index := make(map[string]*domain.ServiceCharge, len(charges))
	for i := range charges {
		ids[i] = charges[i].ID
		index[charges[i].ID] = &charges[i]
	}
	if err := attachChildren(ctx, r.db, ids, index); err != nil {
		return nil, err
	}
	return charges, nil
}

// SaveServiceCharge persists header fields and affected users with an optimistic version check.
func (r *PostgresRepository) SaveServiceCharge(ctx context.Context, charge *domain.ServiceCharge) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE service_charges
		SET title = $3, description = $4, amount = $5, currency = $6, type = $7, category = $8,
			status = $9, due_date = $10, admin_override = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2`,
		charge.ID, charge.Version, charge.Title, charge.Description, charge.Amount, charge.Currency,
		string(charge.Type), string(charge.Category), string(charge.Status), charge.DueDate,
		charge.AdminOverride, charge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update service charge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM service_charges WHERE id = $1)`, charge.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("service charge %s: %w", charge.ID, domain.ErrNotFound)
		}
		return ErrVersionConflict
	}
	if err := replaceAffectedUsers(ctx, tx, charge.ID, charge.AffectedUsers); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	charge.Version++
	return nil
}

// AppendPayment inserts a pending ledger entry.
func (r *PostgresRepository) AppendPayment(ctx context.Context, chargeID string, payment domain.Payment) error {
	// The pool runs in simple-protocol mode, where pgx cannot encode structs.
	metadata, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("encode payment metadata: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO service_charge_payments (id, service_charge_id, reference, provider, provider_reference,
			amount, status, paid_by, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8::jsonb, $9, $9)`,
		payment.ID, chargeID, payment.Reference, string(payment.Provider), payment.ProviderReference,
		payment.Amount, payment.PaidBy, string(metadata), payment.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return domain.Validationf("duplicate payment reference %q", payment.Reference)
			case pgForeignKeyViolation:
				return fmt.Errorf("service charge %s: %w", chargeID, domain.ErrNotFound)
			}
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// SetProviderReference records the gateway's own id for a payment.
func (r *PostgresRepository) SetProviderReference(ctx context.Context, reference, providerReference string) error {
	tag, err := r.db.Exec(ctx, `UPDATE service_charge_payments SET provider_reference = $2, updated_at = NOW() WHERE reference = $1`, reference, providerReference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
	}
	return nil
}

// DeletePendingPayment removes a payment the gateway never accepted.
func (r *PostgresRepository) DeletePendingPayment(ctx context.Context, reference string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM service_charge_payments WHERE reference = $1 AND status = 'pending'`, reference)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TransitionPayment settles one payment under a row lock on its charge.
func (r *PostgresRepository) TransitionPayment(ctx context.Context, reference string, to domain.PaymentStatus, at time.Time) (*domain.ServiceCharge, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var chargeID string
	err = tx.QueryRow(ctx, `
		SELECT sc.id::text
		FROM service_charges sc
		JOIN service_charge_payments p ON p.service_charge_id = sc.id
		WHERE p.reference = $1
		FOR UPDATE OF sc`, reference).Scan(&chargeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
		}
		return nil, false, err
	}

	charge, err := loadCharge(ctx, tx, chargeID)
	if err != nil {
		return nil, false, err
	}
	changed, err := charge.ApplyPaymentOutcome(reference, to, at)
	if err != nil || !changed {
		return charge, false, err
	}
	payment, _ := charge.PaymentByReference(reference)

	tag, err := tx.Exec(ctx, `
		UPDATE service_charge_payments
		SET status = $2, paid_at = $3, updated_at = $4
		WHERE reference = $1 AND status = 'pending'`,
		reference, string(payment.Status), payment.PaidAt, at)
	if err != nil {
		return nil, false, fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Another writer got there first; report the stored state.
		current, err := loadCharge(ctx, tx, chargeID)
		return current, false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE service_charges
		SET status = $2, admin_override = $3, updated_at = $4, version = version + 1
		WHERE id = $1`,
		chargeID, string(charge.Status), charge.AdminOverride, at); err != nil {
		return nil, false, fmt.Errorf("update service charge status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	charge.Version++
	return charge, true, nil
}

// ListStalePendingPayments returns pending payments created before the cutoff, oldest first.
func (r *PostgresRepository) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, "SELECT "+paymentColumns+`
		FROM service_charge_payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payment, error) {
		return scanPayment(row)
	})
}

// ListPayments returns a payer's payments across every charge, newest first.
func (r *PostgresRepository) ListPayments(ctx context.Context, params ListPaymentsParams) ([]domain.Payment, error) {
	args := []any{params.PaidBy}
	query := "SELECT " + paymentColumns + " FROM service_charge_payments WHERE paid_by = $1"
	if params.Status != "" {
		args = append(args, string(params.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(params.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payment, error) {
		return scanPayment(row)
	})
}

func loadCharge(ctx context.Context, db dbtx, chargeID string) (*domain.ServiceCharge, error) {
	charge, err := scanCharge(db.QueryRow(ctx, "SELECT "+chargeColumns+" FROM service_charges WHERE id = $1", chargeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("service charge %s: %w", chargeID, domain.ErrNotFound)
		}
		return nil, err
	}
	if err := attachChildren(ctx, db, []string{charge.ID}, map[string]*domain.ServiceCharge{charge.ID: charge}); err != nil {
		return nil, err
	}
	return charge, nil
}

// attachChildren fills affected users and payments for every charge in index.
func attachChildren(ctx context.Context, db dbtx, ids []string, index map[string]*domain.ServiceCharge) error {
	rows, err := db.Query(ctx, `
		SELECT service_charge_id::text, user_id
		FROM service_charge_affected_users
		WHERE service_charge_id::text = ANY($1)
		ORDER BY service_charge_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var chargeID, userID string
		if err := rows.Scan(&chargeID, &userID); err != nil {
			return err
		}
		if c, ok := index[chargeID]; ok {
			c.AffectedUsers = append(c.AffectedUsers, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	paymentRows, err := db.Query(ctx, "SELECT "+paymentColumns+`
		FROM service_charge_payments
		WHERE service_charge_id::text = ANY($1)
		ORDER BY created_at ASC, id ASC`, ids)
	if err != nil {
		return err
	}
	payments, err := pgx.CollectRows(paymentRows, func(row pgx.CollectableRow) (domain.Payment, error) {
		return scanPayment(row)
	})
	if err != nil {
		return err
	}
	for _, p := range payments {
		if c, ok := index[p.ChargeID]; ok {
			c.Payments = append(c.Payments, p)
		}
	}
	for _, c := range index {
		c.RecomputePaidBy()
	}
	return nil
}

func scanCharge(row pgx.Row) (*domain.ServiceCharge, error) {
	var (
		c                            domain.ServiceCharge
		chargeType, category, status string
	)
	err := row.Scan(&c.ID, &c.EstateID, &c.Title, &c.Description, &c.Amount, &c.Currency, &chargeType, &category,
		&status, &c.DueDate, &c.CreatedBy, &c.AdminOverride, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = domain.ChargeType(chargeType)
	c.Category = domain.ChargeCategory(category)
	c.Status = domain.ChargeStatus(status)
	c.AffectedUsers = []string{}
	c.Payments = []domain.Payment{}
	return &c, nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		p                          domain.Payment
		provider, status, metadata string
	)
	err := row.Scan(&p.ID, &p.ChargeID, &p.Reference, &provider, &p.ProviderReference, &p.Amount,
		&status, &p.PaidBy, &p.PaidAt, &metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return domain.Payment{}, fmt.Errorf("decode metadata of payment %s: %w", p.Reference, err)
		}
	}
	p.Provider = domain.Provider(provider)
	p.Status = domain.NormalizePaymentStatus(status)
	return p, nil
}

func replaceAffectedUsers(ctx context.Context, tx pgx.Tx, chargeID string, userIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM service_charge_affected_users WHERE service_charge_id = $1`, chargeID); err != nil {
		return fmt.Errorf("clear affected users: %w", err)
	}
	for i, userID := range userIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO service_charge_affected_users (service_charge_id, user_id, position)
			VALUES ($1, $2, $3)`, chargeID, userID, i); err != nil {
			return fmt.Errorf("insert affected user: %w", err)
		}
	}
	return nil
}
