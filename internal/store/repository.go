/**
 * @description
 * The persistence contract of the settlement service. A service charge is the
 * unit of consistency: it is loaded whole (header, affected users and payment
 * ledger) and every mutation of one charge is serialized by the store.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/estatehub/settlement-service/internal/domain"
)

// ErrVersionConflict means the charge changed since it was loaded. Reload and retry.
var ErrVersionConflict = errors.New("service charge was modified concurrently")

// ListChargesParams scopes a charge listing.
type ListChargesParams struct {
	EstateID string
	// AffectedUserID, when set, limits results to charges the user is liable for or created.
	AffectedUserID string
	Status         domain.ChargeStatus
	Limit          int
	Offset         int
}

// ListPaymentsParams scopes a payer's payment history.
type ListPaymentsParams struct {
	PaidBy string
	Status domain.PaymentStatus
	Limit  int
	Offset int
}

// Repository defines the interface for database operations.
type Repository interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	CreateServiceCharge(ctx context.Context, charge *domain.ServiceCharge) error
	GetServiceCharge(ctx context.Context, chargeID string) (*domain.ServiceCharge, error)
	FindByPaymentReference(ctx context.Context, reference string) (*domain.ServiceCharge, error)
	ListServiceCharges(ctx context.Context, params ListChargesParams) ([]domain.ServiceCharge, error)
	// SaveServiceCharge writes header fields and affected users when charge.Version
	// still matches the stored version, then increments charge.Version.
	SaveServiceCharge(ctx context.Context, charge *domain.ServiceCharge) error

	AppendPayment(ctx context.Context, chargeID string, payment domain.Payment) error
	SetProviderReference(ctx context.Context, reference, providerReference string) error
	// DeletePendingPayment removes a ledger entry only while it is still pending.
	DeletePendingPayment(ctx context.Context, reference string) (bool, error)
	// TransitionPayment moves a pending payment to completed or failed and settles
	// its charge atomically. Exactly one concurrent caller observes transitioned=true.
	TransitionPayment(ctx context.Context, reference string, to domain.PaymentStatus, at time.Time) (charge *domain.ServiceCharge, transitioned bool, err error)
	ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error)
	// ListPayments returns one payer's ledger entries across charges, newest first.
	ListPayments(ctx context.Context, params ListPaymentsParams) ([]domain.Payment, error)
}
