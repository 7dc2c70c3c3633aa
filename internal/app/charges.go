package app

import (
	"context"
	"fmt"
	"time"

	"github.com/estatehub/settlement-service/internal/domain"
	"github.com/estatehub/settlement-service/internal/store"
)

// CreateChargeInput carries the fields of a new service charge.
type CreateChargeInput struct {
	EstateID      string
	Title         string
	Description   string
	Amount        int64
	Currency      string
	Type          domain.ChargeType
	Category      domain.ChargeCategory
	DueDate       *time.Time
	AffectedUsers []string
}

// ListChargesFilter narrows a listing.
type ListChargesFilter struct {
	Status domain.ChargeStatus
	Limit  int
	Offset int
}

// CreateServiceCharge creates an active charge. Only admins and estate admins may bill an estate.
func (s *Service) CreateServiceCharge(ctx context.Context, actorID string, in CreateChargeInput) (*domain.ServiceCharge, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageCharges() {
		return nil, domain.ErrUnauthorized
	}

	estateID := actor.EstateID
	if in.EstateID != "" && in.EstateID != estateID {
		if !actor.IsAdmin() {
			return nil, domain.ErrUnauthorized
		}
		estateID = in.EstateID
	}
	currency := in.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	charge, err := domain.NewServiceCharge(domain.NewChargeParams{
		EstateID:      estateID,
		Title:         in.Title,
		Description:   in.Description,
		Amount:        in.Amount,
		Currency:      currency,
		Type:          in.Type,
		Category:      in.Category,
		DueDate:       in.DueDate,
		AffectedUsers: in.AffectedUsers,
		CreatedBy:     actor.ID,
	}, s.now())
	if err != nil {
		return nil, err
	}
	charge.ID = s.newID()

	if err := s.repo.CreateServiceCharge(ctx, charge); err != nil {
		return nil, fmt.Errorf("create service charge: %w", err)
	}
	s.logger.Info("service charge created", "component", "settlement", "charge_id", charge.ID, "estate_id", charge.EstateID, "amount", charge.Amount)
	return charge, nil
}

// GetServiceCharge returns a charge the actor may see. Charges outside the
// actor's scope are reported as not found.
func (s *Service) GetServiceCharge(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	charge, err := s.repo.GetServiceCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if !charge.IsVisibleTo(actor) {
		return nil, fmt.Errorf("service charge %s: %w", chargeID, domain.ErrNotFound)
	}
	return charge, nil
}

// ListServiceCharges lists the actor's estate. Plain users only see charges they owe or created.
func (s *Service) ListServiceCharges(ctx context.Context, actorID string, filter ListChargesFilter) ([]domain.ServiceCharge, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	params := store.ListChargesParams{
		EstateID: actor.EstateID,
		Status:   filter.Status,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	if !actor.CanManageCharges() {
		params.AffectedUserID = actor.ID
	}
	return s.repo.ListServiceCharges(ctx, params)
}

// UpdateServiceCharge edits an open charge. Only admins and the creator may edit.
func (s *Service) UpdateServiceCharge(ctx context.Context, actorID, chargeID string, patch domain.ChargePatch) (*domain.ServiceCharge, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.mutateCharge(ctx, actor, chargeID, "update", func(c *domain.ServiceCharge) error {
		return c.ApplyPatch(actor, patch, s.now())
	})
}

// CancelServiceCharge closes an open charge.
func (s *Service) CancelServiceCharge(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	charge, err := s.mutateCharge(ctx, actor, chargeID, "cancel", func(c *domain.ServiceCharge) error {
		return c.Cancel(actor, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("service charge cancelled", "component", "settlement", "charge_id", chargeID, "actor", actor.ID)
	return charge, nil
}

// MarkAsPaid flips a charge to paid without touching its ledger. Admin only.
func (s *Service) MarkAsPaid(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error) {
	return s.adminOverride(ctx, actorID, chargeID, "mark_paid", (*domain.ServiceCharge).MarkAsPaid)
}

// MarkAsUnpaid flips a charge to unpaid without touching its ledger. Admin only.
func (s *Service) MarkAsUnpaid(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error) {
	return s.adminOverride(ctx, actorID, chargeID, "mark_unpaid", (*domain.ServiceCharge).MarkAsUnpaid)
}

func (s *Service) adminOverride(ctx context.Context, actorID, chargeID, op string, apply func(*domain.ServiceCharge, *domain.User, time.Time) error) (*domain.ServiceCharge, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	// Checked against the stored role before any load so nothing leaks to non-admins.
	if !actor.IsAdmin() {
		s.logger.Warn("override rejected", "component", "settlement", "op", op, "charge_id", chargeID, "actor", actor.ID, "outcome", "reject", "reason", "not_admin")
		return nil, domain.ErrUnauthorized
	}
	charge, err := s.mutateCharge(ctx, actor, chargeID, op, func(c *domain.ServiceCharge) error {
		return apply(c, actor, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin override applied", "component", "settlement", "op", op, "charge_id", chargeID, "actor", actor.ID, "status", charge.Status, "admin_override", charge.AdminOverride)
	return charge, nil
}
