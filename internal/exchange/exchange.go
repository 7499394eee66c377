// Package exchange implements buy-side settlement of CCT at a fixed unit price.
//
// A sale is validated in a fixed order: quantity, project existence, eligibility,
// payment. Only then does the exchange hand a fully priced Settlement to the Ledger,
// which commits the supply increment, the currency movements and the SaleEvent in one
// transaction. Every rejection before or inside Settle leaves balances, counters and
// the event log exactly as they were.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"time"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/cct-registry/cct-registry/internal/telemetry"
	"github.com/cct-registry/cct-registry/internal/validator"
)

// ProjectReader loads projects. *registry.Registry satisfies it.
type ProjectReader interface {
	GetProject(ctx context.Context, orgID string, index int) (*models.Project, error)
}

// Ledger commits a settlement atomically. It returns registry.ErrInsufficientSupply,
// registry.ErrInsufficientFunds, registry.ErrBalanceOverflow or registry.ErrNotFound
// without committing anything.
type Ledger interface {
	Settle(ctx context.Context, s *models.Settlement) (*models.SaleReceipt, error)
}

// Pricing holds the exchange-wide price and overpayment handling
type Pricing struct {
	UnitPrice         uint64
	OverpaymentPolicy string
	TreasuryAccount   string
}

// PricingFromConfig copies the exchange section of the configuration
func PricingFromConfig(cfg config.ExchangeConfig) Pricing {
	return Pricing{
		UnitPrice:         cfg.UnitPrice,
		OverpaymentPolicy: cfg.OverpaymentPolicy,
		TreasuryAccount:   cfg.TreasuryAccount,
	}
}

// SellRequest is one buyer's purchase attempt
type SellRequest struct {
	Buyer        string
	Quantity     uint64
	OrgID        string
	ProjectIndex int
	// Attached is the currency the buyer offers for the purchase
	Attached  uint64
	RequestID string
}

// Exchange sells project credits for native currency
type Exchange struct {
	projects ProjectReader
	ledger   Ledger
	gate     validator.Gate
	pricing  Pricing
}

// New creates an exchange. A nil gate admits every project.
func New(projects ProjectReader, ledger Ledger, gate validator.Gate, pricing Pricing) *Exchange {
	if gate == nil {
		gate = validator.AllowAll{}
	}
	if pricing.OverpaymentPolicy == "" {
		pricing.OverpaymentPolicy = config.OverpaymentRefund
	}
	return &Exchange{projects: projects, ledger: ledger, gate: gate, pricing: pricing}
}

// UnitPrice returns the fixed price of one CCT
func (e *Exchange) UnitPrice() uint64 {
	return e.pricing.UnitPrice
}

// Quote returns the currency required for quantity units
func (e *Exchange) Quote(quantity uint64) (uint64, error) {
	if quantity == 0 {
		return 0, registry.ErrInvalidQuantity
	}
	hi, required := bits.Mul64(quantity, e.pricing.UnitPrice)
	if hi != 0 || required > math.MaxInt64 {
		return 0, fmt.Errorf("%w: price of %d units overflows", registry.ErrInvalidQuantity, quantity)
	}
	return required, nil
}

// Sell validates req and settles it. The returned receipt carries the project as it
// stands after the sale.
func (e *Exchange) Sell(ctx context.Context, req SellRequest) (receipt *models.SaleReceipt, err error) {
	start := time.Now()
	defer func() {
		telemetry.SaleDuration.Observe(time.Since(start).Seconds())
		telemetry.SalesTotal.WithLabelValues(saleOutcome(err)).Inc()
	}()

	if req.Quantity == 0 {
		return nil, registry.ErrInvalidQuantity
	}

	project, err := e.projects.GetProject(ctx, req.OrgID, req.ProjectIndex)
	if err != nil {
		return nil, err
	}

	subject := validator.Subject{OrgID: project.OrgID, ProjectIndex: &project.Index}
	eligible, err := e.gate.IsEligible(ctx, subject)
	if err != nil {
		slog.Error("validator gate failed", "subject", subject.Key(), "error", err)
		return nil, fmt.Errorf("%w: %v", registry.ErrValidatorUnavailable, err)
	}
	if !eligible {
		return nil, fmt.Errorf("project %s: %w", subject.Key(), registry.ErrNotEligible)
	}

	settlement, err := e.price(req)
	if err != nil {
		return nil, err
	}

	receipt, err = e.ledger.Settle(ctx, settlement)
	if err != nil {
		if isRejection(err) {
			slog.Info("sale rejected", "org_id", req.OrgID, "project_index", req.ProjectIndex,
				"buyer", req.Buyer, "quantity", req.Quantity, "reason", err)
		} else {
			slog.Error("sale settlement failed", "org_id", req.OrgID, "project_index", req.ProjectIndex,
				"buyer", req.Buyer, "quantity", req.Quantity, "error", err)
		}
		return nil, err
	}

	telemetry.UnitsSoldTotal.Add(float64(req.Quantity))
	telemetry.CurrencySettledTotal.Add(float64(settlement.Proceeds))
	slog.Info("sale settled",
		"org_id", req.OrgID,
		"project_index", req.ProjectIndex,
		"buyer", req.Buyer,
		"quantity", req.Quantity,
		"amount_paid", settlement.Proceeds,
		"refunded", settlement.Refunded,
		"cct_listed", receipt.Project.CCTListed,
		"sequence", receipt.Event.Sequence,
	)
	return receipt, nil
}

// price turns a request into a settlement according to the overpayment policy
func (e *Exchange) price(req SellRequest) (*models.Settlement, error) {
	required, err := e.Quote(req.Quantity)
	if err != nil {
		return nil, err
	}
	if req.Attached < required {
		return nil, fmt.Errorf("%w: %d attached, %d required", registry.ErrInsufficientPayment, req.Attached, required)
	}
	// balances, refunds and retained amounts are all signed 64-bit
	if req.Attached > math.MaxInt64 {
		return nil, fmt.Errorf("%w: attached amount out of range", registry.ErrInvalidPayment)
	}
	excess := req.Attached - required

	s := &models.Settlement{
		OrgID:        req.OrgID,
		ProjectIndex: req.ProjectIndex,
		Buyer:        req.Buyer,
		Quantity:     req.Quantity,
		UnitPrice:    e.pricing.UnitPrice,
		Debit:        required,
		Proceeds:     required,
		RequestID:    req.RequestID,
	}

	switch e.pricing.OverpaymentPolicy {
	case config.OverpaymentReject:
		if excess > 0 {
			return nil, fmt.Errorf("%w: %d attached, %d required", registry.ErrInvalidPayment, req.Attached, required)
		}
	case config.OverpaymentRetain:
		s.Debit = req.Attached
		s.Retained = excess
		s.TreasuryAccount = e.pricing.TreasuryAccount
	default:
		s.Refunded = excess
	}
	return s, nil
}

func isRejection(err error) bool {
	return errors.Is(err, registry.ErrInsufficientSupply) ||
		errors.Is(err, registry.ErrInsufficientFunds) ||
		errors.Is(err, registry.ErrBalanceOverflow) ||
		errors.Is(err, registry.ErrNotFound)
}

func saleOutcome(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, registry.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.Is(err, registry.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, registry.ErrValidatorUnavailable):
		return "validator_unavailable"
	case errors.Is(err, registry.ErrInsufficientPayment), errors.Is(err, registry.ErrInvalidPayment):
		return "payment_rejected"
	case errors.Is(err, registry.ErrInsufficientSupply):
		return "insufficient_supply"
	case errors.Is(err, registry.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, registry.ErrBalanceOverflow):
		return "balance_overflow"
	default:
		return "error"
	}
}
