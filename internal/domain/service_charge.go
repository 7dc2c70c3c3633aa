/**
 * @description
 * The ServiceCharge aggregate and its settlement rules. A charge is a billable
 * obligation shared by a set of affected users; it owns an append-only payment
 * sub-ledger whose completed entries decide whether the charge is settled.
 *
 * Everything here is pure: persistence and provider calls live in the store and
 * app packages, which load a charge, apply one of these methods, and write it back.
 */

package domain

import (
	"slices"
	"strings"
	"time"
)

// ChargeStatus is the lifecycle state of a service charge.
type ChargeStatus string

const (
	ChargeActive    ChargeStatus = "active"
	ChargePaid      ChargeStatus = "paid"
	ChargeCancelled ChargeStatus = "cancelled"
	ChargeUnpaid    ChargeStatus = "unpaid"
)

// ChargeType distinguishes recurring from one-off billing.
type ChargeType string

const (
	ChargeAnnual     ChargeType = "annual"
	ChargeIncidental ChargeType = "incidental"
)

// ChargeCategory classifies what the charge pays for.
type ChargeCategory string

const (
	CategoryMaintenance ChargeCategory = "maintenance"
	CategoryRepairs     ChargeCategory = "repairs"
	CategoryUtilities   ChargeCategory = "utilities"
	CategorySecurity    ChargeCategory = "security"
	CategoryOther       ChargeCategory = "other"
)

func (t ChargeType) valid() bool { return t == ChargeAnnual || t == ChargeIncidental }

func (c ChargeCategory) valid() bool {
	switch c {
	case CategoryMaintenance, CategoryRepairs, CategoryUtilities, CategorySecurity, CategoryOther:
		return true
	}
	return false
}

// ServiceCharge is the settlement aggregate.
type ServiceCharge struct {
	ID            string         `json:"id"`
	EstateID      string         `json:"estate_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Type          ChargeType     `json:"type"`
	Category      ChargeCategory `json:"category"`
	Status        ChargeStatus   `json:"status"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	CreatedBy     string         `json:"created_by"`
	AffectedUsers []string       `json:"affected_users"`
	PaidBy        []string       `json:"paid_by"`
	Payments      []Payment      `json:"payments"`
	// AdminOverride is set while an admin-chosen status disagrees with the ledger.
	AdminOverride bool      `json:"admin_override"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewChargeParams carries the caller-supplied fields of a new charge.
type NewChargeParams struct {
	EstateID      string
	Title         string
	Description   string
	Amount        int64
	Currency      string
	Type          ChargeType
	Category      ChargeCategory
	DueDate       *time.Time
	AffectedUsers []string
	CreatedBy     string
}

// NewServiceCharge validates params and returns an active charge with an empty ledger.
// The caller assigns the ID.
func NewServiceCharge(p NewChargeParams, now time.Time) (*ServiceCharge, error) {
	if p.Type == "" {
		p.Type = ChargeIncidental
	}
	if p.Category == "" {
		p.Category = CategoryOther
	}
	c := &ServiceCharge{
		EstateID:      strings.TrimSpace(p.EstateID),
		Title:         strings.TrimSpace(p.Title),
		Description:   strings.TrimSpace(p.Description),
		Amount:        p.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
		Type:          p.Type,
		Category:      p.Category,
		Status:        ChargeActive,
		DueDate:       p.DueDate,
		CreatedBy:     p.CreatedBy,
		AffectedUsers: dedupe(p.AffectedUsers),
		PaidBy:        []string{},
		Payments:      []Payment{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants every stored charge must satisfy.
func (c *ServiceCharge) Validate() error {
	switch {
	case c.Title == "":
		return Validationf("title is required")
	case c.Description == "":
		return Validationf("description is required")
	case c.Amount <= 0:
		return Validationf("amount must be positive")
	case len(c.AffectedUsers) == 0:
		return Validationf("at least one affected user is required")
	case !c.Type.valid():
		return Validationf("unknown charge type %q", c.Type)
	case !c.Category.valid():
		return Validationf("unknown charge category %q", c.Category)
	case c.Type == ChargeAnnual && c.DueDate == nil:
		return Validationf("due date is required for annual charges")
	case c.EstateID == "":
		return Validationf("estate is required")
	}
	return nil
}

// CompletedAmount sums every completed payment regardless of payer.
func (c *ServiceCharge) CompletedAmount() int64 {
	var total int64
	for _, p := range c.Payments {
		if p.IsCompleted() {
			total += p.Amount
		}
	}
	return total
}

// IsFullyPaid reports whether completed payments cover the charge amount.
func (c *ServiceCharge) IsFullyPaid() bool {
	return c.CompletedAmount() >= c.Amount
}

// Outstanding is the amount still owed, never negative.
func (c *ServiceCharge) Outstanding() int64 {
	if rest := c.Amount - c.CompletedAmount(); rest > 0 {
		return rest
	}
	return 0
}

// CanBeModifiedBy is true for admins and for the user who created the charge.
func (c *ServiceCharge) CanBeModifiedBy(actor *User) bool {
	if actor == nil {
		return false
	}
	return actor.IsAdmin() || actor.ID == c.CreatedBy
}

// IsVisibleTo applies the estate and role scoping used by reads.
func (c *ServiceCharge) IsVisibleTo(actor *User) bool {
	if actor == nil {
		return false
	}
	if actor.IsAdmin() && actor.EstateID == "" {
		return true
	}
	if c.EstateID != actor.EstateID {
		return false
	}
	if actor.CanManageCharges() || c.CreatedBy == actor.ID {
		return true
	}
	return c.IsAffected(actor.ID)
}

func (c *ServiceCharge) IsAffected(userID string) bool {
	return slices.Contains(c.AffectedUsers, userID)
}

func (c *ServiceCharge) HasPaid(userID string) bool {
	return slices.Contains(c.PaidBy, userID)
}

// IsPayable reports whether new payments may be started against the charge.
func (c *ServiceCharge) IsPayable() bool {
	return c.Status == ChargeActive || c.Status == ChargeUnpaid
}

// PaymentByReference returns the ledger entry with the given reference.
func (c *ServiceCharge) PaymentByReference(reference string) (*Payment, bool) {
	for i := range c.Payments {
		if c.Payments[i].Reference == reference {
			return &c.Payments[i], true
		}
	}
	return nil, false
}

// RecomputePaidBy rebuilds PaidBy from completed ledger entries in first-payment order.
func (c *ServiceCharge) RecomputePaidBy() {
	paidBy := make([]string, 0, len(c.Payments))
	for _, p := range c.Payments {
		if p.IsCompleted() && p.PaidBy != "" && !slices.Contains(paidBy, p.PaidBy) {
			paidBy = append(paidBy, p.PaidBy)
		}
	}
	c.PaidBy = paidBy
}

// AppendPayment adds a pending ledger entry.
func (c *ServiceCharge) AppendPayment(p Payment) error {
	if _, exists := c.PaymentByReference(p.Reference); exists {
		return Validationf("duplicate payment reference %q", p.Reference)
	}
	p.ChargeID = c.ID
	p.Status = PaymentPending
	c.Payments = append(c.Payments, p)
	c.UpdatedAt = p.CreatedAt
	return nil
}

// RemovePendingPayment drops a pending entry the gateway never accepted.
// Settled entries are never removed.
func (c *ServiceCharge) RemovePendingPayment(reference string) bool {
	for i, p := range c.Payments {
		if p.Reference == reference && p.Status == PaymentPending {
			c.Payments = append(c.Payments[:i], c.Payments[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyPaymentOutcome moves the payment with reference out of pending.
// It returns false without changes when the entry already left pending, which
// makes replays of the same verification or webhook harmless.
func (c *ServiceCharge) ApplyPaymentOutcome(reference string, to PaymentStatus, at time.Time) (bool, error) {
	if to != PaymentCompleted && to != PaymentFailed {
		return false, Validationf("cannot transition payment to %q", to)
	}
	p, ok := c.PaymentByReference(reference)
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != PaymentPending {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	if to == PaymentCompleted {
		paidAt := at
		p.PaidAt = &paidAt
	}
	c.RecomputePaidBy()
	if to == PaymentCompleted {
		c.Settle()
	} else {
		c.AdminOverride = c.disagreesWithLedger()
	}
	c.UpdatedAt = at
	return true, nil
}

// Settle marks an open charge paid once the ledger covers it and refreshes AdminOverride.
func (c *ServiceCharge) Settle() {
	if c.IsPayable() && c.IsFullyPaid() {
		c.Status = ChargePaid
	}
	c.AdminOverride = c.disagreesWithLedger()
}

func (c *ServiceCharge) disagreesWithLedger() bool {
	switch c.Status {
	case ChargePaid:
		return !c.IsFullyPaid()
	case ChargeActive, ChargeUnpaid:
		return c.IsFullyPaid()
	default:
		return false
	}
}

// MarkAsPaid is the admin escape hatch. It sets the status without touching the
// ledger; AdminOverride records whether the two now disagree.
func (c *ServiceCharge) MarkAsPaid(actor *User, at time.Time) error {
	return c.override(actor, ChargePaid, at)
}

// MarkAsUnpaid reverts a charge to unpaid without invalidating completed payments.
func (c *ServiceCharge) MarkAsUnpaid(actor *User, at time.Time) error {
	return c.override(actor, ChargeUnpaid, at)
}

func (c *ServiceCharge) override(actor *User, to ChargeStatus, at time.Time) error {
	if !actor.IsAdmin() {
		return ErrUnauthorized
	}
	if c.Status == ChargeCancelled {
		return ErrInvalidTransition
	}
	c.Status = to
	c.AdminOverride = c.disagreesWithLedger()
	c.UpdatedAt = at
	return nil
}

// Cancel closes an open charge. Paid charges cannot be cancelled.
func (c *ServiceCharge) Cancel(actor *User, at time.Time) error {
	if !c.CanBeModifiedBy(actor) {
		return ErrUnauthorized
	}
	switch c.Status {
	case ChargeCancelled:
		return nil
	case ChargePaid:
		return ErrInvalidTransition
	}
	c.Status = ChargeCancelled
	c.AdminOverride = false
	c.UpdatedAt = at
	return nil
}

// ChargePatch lists the editable fields of a charge; nil means unchanged.
type ChargePatch struct {
	Title         *string
	Description   *string
	Amount        *int64
	Type          *ChargeType
	Category      *ChargeCategory
	DueDate       *time.Time
	AffectedUsers []string
}

// ApplyPatch edits an open charge and re-runs validation. The status never
// moves here; only a completing payment settles a charge.
func (c *ServiceCharge) ApplyPatch(actor *User, patch ChargePatch, at time.Time) error {
	if !c.CanBeModifiedBy(actor) {
		return ErrUnauthorized
	}
	if !c.IsPayable() {
		return ErrInvalidTransition
	}
	next := *c
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Amount != nil {
		next.Amount = *patch.Amount
	}
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.DueDate != nil {
		due := *patch.DueDate
		next.DueDate = &due
	}
	if patch.AffectedUsers != nil {
		next.AffectedUsers = dedupe(patch.AffectedUsers)
		for _, payer := range c.PaidBy {
			if !slices.Contains(next.AffectedUsers, payer) {
				return Validationf("user %s has already paid and cannot be removed", payer)
			}
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.AdminOverride = next.disagreesWithLedger()
	next.UpdatedAt = at
	*c = next
	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
