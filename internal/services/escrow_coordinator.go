package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"auction-core/internal/domain"
	"auction-core/internal/metrics"
	"auction-core/pkg/logger"
	"auction-core/pkg/utils"
)

type EscrowConfig struct {
	Retry                RetryPolicy
	AuthorizationTimeout time.Duration
	Currency             string
	// ConflictRetries bounds retries of a reconciliation write that lost a race.
	ConflictRetries int
}

type ReconcileResult string

const (
	ResultApplied   ReconcileResult = "applied"
	ResultDuplicate ReconcileResult = "duplicate"
	ResultNoop      ReconcileResult = "noop"
)

// EscrowCoordinator owns the payment side of a closed auction: it asks the
// gateway to authorize the winning bid and applies the gateway's
// asynchronous confirmations.
type EscrowCoordinator struct {
	ledger    domain.Ledger
	gateway   domain.PaymentGateway
	methods   domain.PaymentMethodStore
	publisher domain.EventPublisher
	cfg       EscrowConfig
	inflight  sync.Map // key: paymentID
	now       func() time.Time
	tracer    trace.Tracer
	log       logger.Logger
}

func NewEscrowCoordinator(
	ledger domain.Ledger,
	gateway domain.PaymentGateway,
	methods domain.PaymentMethodStore,
	publisher domain.EventPublisher,
	cfg EscrowConfig,
	log logger.Logger,
) *EscrowCoordinator {
	if cfg.ConflictRetries < 1 {
		cfg.ConflictRetries = 3
	}
	return &EscrowCoordinator{
		ledger:    ledger,
		gateway:   gateway,
		methods:   methods,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		tracer:    otel.Tracer("auction-core/services"),
		log:       log,
	}
}

// InitiatePayment creates the PENDING payment for the winning bid and requests
// authorization. Calling it again for the same auction returns the existing
// payment and only retries authorization when it never reached the gateway.
func (e *EscrowCoordinator) InitiatePayment(ctx context.Context, auctionID string, winning *domain.Bid) (*domain.Payment, error) {
	ctx, span := e.tracer.Start(ctx, "EscrowCoordinator.InitiatePayment",
		trace.WithAttributes(attribute.String("auction.id", auctionID)))
	defer span.End()

	if winning == nil || winning.AuctionID != auctionID {
		return nil, fmt.Errorf("initiate payment for %s without its winning bid: %w", auctionID, domain.ErrValidation)
	}

	payment := &domain.Payment{
		ID:        utils.GenerateID("pay"),
		AuctionID: auctionID,
		BidID:     winning.ID,
		BidderID:  winning.BidderID,
		Amount:    winning.Amount,
		Status:    domain.PaymentPending,
	}
	err := e.ledger.CreatePayment(ctx, payment)
	switch {
	case errors.Is(err, domain.ErrPaymentExists):
		existing, err := e.ledger.GetPaymentByAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if !existing.AwaitingAuthorization() {
			return existing, nil
		}
		payment = existing
	case err != nil:
		return nil, err
	default:
		metrics.RecordPayment(string(domain.PaymentPending))
		e.log.Info("Payment created", "auction_id", auctionID, "payment_id", payment.ID, "amount", payment.Amount.StringFixed(domain.CurrencyScale))
	}

	if _, busy := e.inflight.LoadOrStore(payment.ID, struct{}{}); busy {
		return payment, nil
	}
	defer e.inflight.Delete(payment.ID)

	return e.authorize(ctx, payment)
}

func (e *EscrowCoordinator) authorize(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	method, err := e.methods.PaymentMethod(ctx, payment.BidderID)
	if errors.Is(err, domain.ErrPaymentMethodNotFound) {
		return e.fail(ctx, payment, "no payment method on file")
	}
	if err != nil {
		return payment, err
	}

	req := domain.AuthorizationRequest{
		IdempotencyKey: payment.ID,
		PaymentID:      payment.ID,
		AuctionID:      payment.AuctionID,
		BidderID:       payment.BidderID,
		PaymentMethod:  method,
		Amount:         payment.Amount,
		Currency:       e.cfg.Currency,
	}

	var ref string
	err = e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := e.attemptContext(ctx)
		defer cancel()

		r, err := e.gateway.Authorize(attemptCtx, req)
		if err != nil {
			metrics.RecordGatewayAttempt(gatewayResult(err))
			e.log.Warn("Authorization attempt failed", "payment_id", payment.ID, "error", err)
			return err
		}
		metrics.RecordGatewayAttempt("ok")
		ref = r
		return nil
	}, func(err error) bool {
		return errors.Is(err, domain.ErrGateway) || errors.Is(err, context.DeadlineExceeded)
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Shutting down; the payment sweep picks it up again.
		return payment, ctx.Err()
	case errors.Is(err, domain.ErrPaymentDeclined):
		return e.fail(ctx, payment, "declined by gateway")
	default:
		return e.fail(ctx, payment, fmt.Sprintf("authorization failed after %d attempts: %v", e.cfg.Retry.MaxAttempts, err))
	}

	if err := e.ledger.SetExternalReference(ctx, payment.ID, ref); err != nil {
		return payment, err
	}
	payment.ExternalReference = ref
	e.log.Info("Payment authorization requested", "payment_id", payment.ID, "external_reference", ref)
	return payment, nil
}

func (e *EscrowCoordinator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.AuthorizationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.AuthorizationTimeout)
}

func (e *EscrowCoordinator) fail(ctx context.Context, payment *domain.Payment, reason string) (*domain.Payment, error) {
	reason = truncateReason(reason)
	err := e.ledger.ApplyPaymentTransition(ctx, domain.PaymentTransition{
		Outcome:       domain.OutcomeFailure,
		PaymentID:     payment.ID,
		From:          domain.PaymentPending,
		To:            domain.PaymentFailed,
		FailureReason: reason,
		Unreferenced:  true,
	})
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		// Another instance authorized or settled it meanwhile.
		current, getErr := e.ledger.GetPayment(ctx, payment.ID)
		if getErr != nil {
			return payment, getErr
		}
		e.log.Info("Payment moved on before it could be failed", "payment_id", payment.ID,
			"status", current.Status, "external_reference", current.ExternalReference)
		return current, nil
	}
	if err != nil {
		return payment, err
	}

	payment.Status = domain.PaymentFailed
	payment.FailureReason = reason
	metrics.RecordPayment(string(domain.PaymentFailed))
	e.log.Warn("Payment failed", "auction_id", payment.AuctionID, "payment_id", payment.ID, "reason", reason)
	publish(ctx, e.publisher, e.log, domain.NewPaymentEvent(payment, e.now()))
	return payment, nil
}

func truncateReason(reason string) string {
	r := []rune(reason)
	if len(r) <= domain.MaxFailureReasonLength {
		return reason
	}
	return string(r[:domain.MaxFailureReasonLength-3]) + "..."
}

// Reconcile applies one gateway confirmation. Replays of an already processed
// event id, and confirmations the payment already reflects, change nothing.
// An event id replayed with a different outcome is ErrInvalidTransition.
func (e *EscrowCoordinator) Reconcile(ctx context.Context, c domain.Confirmation) (ReconcileResult, error) {
	ctx, span := e.tracer.Start(ctx, "EscrowCoordinator.Reconcile",
		trace.WithAttributes(attribute.String("event.id", c.EventID)))
	defer span.End()

	outcome, err := domain.ParseConfirmationOutcome(string(c.Outcome))
	if err != nil {
		metrics.RecordReconciliation("invalid")
		return "", err
	}
	if c.EventID == "" || c.ExternalReference == "" {
		metrics.RecordReconciliation("invalid")
		return "", fmt.Errorf("confirmation without event id or reference: %w", domain.ErrValidation)
	}

	if err := e.gateway.VerifySignature(c.SigningPayload(), c.Signature); err != nil {
		metrics.RecordReconciliation("rejected")
		e.log.Warn("Rejected payment confirmation", "security_event", true,
			"event_id", c.EventID, "external_reference", c.ExternalReference, "error", err)
		if !errors.Is(err, domain.ErrSignatureVerification) {
			err = fmt.Errorf("%v: %w", err, domain.ErrSignatureVerification)
		}
		return "", err
	}

	for attempt := 1; attempt <= e.cfg.ConflictRetries; attempt++ {
		result, event, err := e.reconcileOnce(ctx, c.EventID, c.ExternalReference, outcome)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			metrics.RecordReconciliation("error")
			span.RecordError(err)
			return "", err
		}

		metrics.RecordReconciliation(string(result))
		publish(ctx, e.publisher, e.log, event)
		return result, nil
	}

	metrics.RecordReconciliation("error")
	return "", fmt.Errorf("reconcile %s: %w", c.EventID, domain.ErrConcurrencyConflict)
}

// checkReplay reports whether eventID was already applied. An event id that
// comes back carrying a different outcome is refused.
func (e *EscrowCoordinator) checkReplay(ctx context.Context, eventID string, outcome domain.ConfirmationOutcome) (bool, error) {
	stored, processed, err := e.ledger.ProcessedEvent(ctx, eventID)
	if err != nil || !processed {
		return false, err
	}
	if stored != outcome {
		e.log.Error("Confirmation replayed with a different outcome", "security_event", true,
			"event_id", eventID, "recorded", stored, "received", outcome)
		return false, fmt.Errorf("event %s recorded as %s, received %s: %w", eventID, stored, outcome, domain.ErrInvalidTransition)
	}
	e.log.Debug("Duplicate confirmation ignored", "event_id", eventID)
	return true, nil
}

func (e *EscrowCoordinator) reconcileOnce(ctx context.Context, eventID, ref string, outcome domain.ConfirmationOutcome) (ReconcileResult, *domain.AuctionEvent, error) {
	replay, err := e.checkReplay(ctx, eventID, outcome)
	if err != nil {
		return "", nil, err
	}
	if replay {
		return ResultDuplicate, nil, nil
	}

	payment, err := e.ledger.GetPaymentByExternalReference(ctx, ref)
	if err != nil {
		return "", nil, err
	}

	next, changed, err := payment.Status.Apply(outcome)
	if err != nil {
		e.log.Error("Refusing confirmation", "event_id", eventID, "payment_id", payment.ID,
			"status", payment.Status, "outcome", outcome, "error", err)
		return "", nil, err
	}

	t := domain.PaymentTransition{
		EventID:   eventID,
		Outcome:   outcome,
		PaymentID: payment.ID,
		From:      payment.Status,
		To:        next,
	}
	if changed && next == domain.PaymentFailed {
		t.FailureReason = "gateway reported failure"
	}
	if changed && next == domain.PaymentCompleted {
		auction, err := e.ledger.GetAuction(ctx, payment.AuctionID)
		if err != nil {
			return "", nil, err
		}
		switch auction.Status {
		case domain.AuctionEnded:
			paid, err := auction.Transition(domain.AuctionPaid)
			if err != nil {
				return "", nil, err
			}
			t.Auction = paid
			t.AuctionExpectedVersion = auction.Version
		case domain.AuctionPaid:
		default:
			return "", nil, fmt.Errorf("payment %s settled on %s auction %s: %w",
				payment.ID, auction.Status, auction.ID, domain.ErrInvalidTransition)
		}
	}

	err = e.ledger.ApplyPaymentTransition(ctx, t)
	if errors.Is(err, domain.ErrEventAlreadyProcessed) {
		if _, err := e.checkReplay(ctx, eventID, outcome); err != nil {
			return "", nil, err
		}
		return ResultDuplicate, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if !changed {
		return ResultNoop, nil, nil
	}

	payment.Status = next
	payment.FailureReason = t.FailureReason
	metrics.RecordPayment(string(next))
	e.log.Info("Payment reconciled", "event_id", eventID, "payment_id", payment.ID,
		"auction_id", payment.AuctionID, "status", next)
	return ResultApplied, domain.NewPaymentEvent(payment, e.now()), nil
}

// RequestRefund asks the gateway to refund a COMPLETED payment. The status
// moves to REFUNDED only when the gateway confirms.
func (e *EscrowCoordinator) RequestRefund(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := e.ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentCompleted {
		return nil, fmt.Errorf("refund payment %s in status %s: %w", paymentID, payment.Status, domain.ErrInvalidTransition)
	}

	err = e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := e.attemptContext(ctx)
		defer cancel()
		return e.gateway.Refund(attemptCtx, payment.ExternalReference)
	}, func(err error) bool {
		return errors.Is(err, domain.ErrGateway)
	})
	if err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", paymentID, err)
	}

	e.log.Info("Refund requested", "payment_id", paymentID, "external_reference", payment.ExternalReference)
	return payment, nil
}

func gatewayResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
