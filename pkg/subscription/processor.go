package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
)

// Processor applies billing webhook events to subscription records exactly once.
//
// Events are deduplicated through the ledger, resolved to a user through the
// billing customer reference, classified against the stored record and written
// with compare-and-set. A conflicting write is re-read and re-classified once.
type Processor struct {
	store  Store
	ledger Ledger
	opts   options
}

// NewProcessor creates a webhook event processor.
// Panics if store or ledger is nil.
func NewProcessor(store Store, ledger Ledger, opts ...Option) *Processor {
	if store == nil {
		panic("subscription: Store is required")
	}
	if ledger == nil {
		panic("subscription: Ledger is required")
	}
	return &Processor{
		store:  store,
		ledger: ledger,
		opts:   buildOptions("processor", opts),
	}
}

// Process applies ev and reports what happened. A non-nil error means an
// infrastructure failure; the event was not applied and must be redelivered.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	out, err := p.process(ctx, ev)
	if err != nil {
		p.opts.logger.ErrorContext(ctx, "webhook processing failed",
			logger.EventID(ev.ID),
			logger.EventType(string(ev.Type)),
			logger.Error(err),
		)
		return Outcome{}, err
	}

	level := slog.LevelInfo
	if out.Result == ResultRejected {
		level = slog.LevelWarn
	}
	p.opts.logger.Log(ctx, level, "webhook processed",
		logger.EventID(ev.ID),
		logger.EventType(string(ev.Type)),
		logger.Provider(ev.Provider),
		logger.UserID(out.UserID),
		logger.Outcome(string(out.Result)),
		logger.Reason(string(out.Reason)),
	)
	if p.opts.onOutcome != nil {
		p.opts.onOutcome(ev, out)
	}
	return out, nil
}

func (p *Processor) process(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ID == "" {
		return rejected("", ReasonInvalidPayload), nil
	}
	ev.Payload = ev.Payload.normalized()
	ev.OccurredAt = StoredTime(ev.OccurredAt)

	seen, err := p.seen(ctx, ev.ID)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		return Outcome{Result: ResultDuplicate}, nil
	}

	if !ev.Type.Supported() {
		return rejected("", ReasonUnsupported), nil
	}
	if ev.CustomerRef == "" {
		return rejected("", ReasonInvalidPayload), nil
	}

	cur, err := p.findByCustomer(ctx, ev.CustomerRef)
	if errors.Is(err, ErrRecordNotFound) {
		p.opts.notify(ctx, alert.Alert{
			Kind:     alert.KindUnmappedCustomer,
			Severity: alert.SeverityCritical,
			Summary:  "webhook event for a billing customer with no user mapping",
			EventID:  ev.ID,
			Details: map[string]string{
				"customer_ref": ev.CustomerRef,
				"event_type":   string(ev.Type),
				"provider":     ev.Provider,
			},
		})
		return rejected("", ReasonUnmappedCustomer), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	userID := cur.UserID
	for attempt := 1; attempt <= 2; attempt++ {
		patch, err := p.classify(cur, ev)
		if err != nil {
			return rejected(userID, reasonFor(err)), nil
		}

		next := cur
		if !patch.IsEmpty() {
			next, err = p.compareAndSet(ctx, userID, cur.Version, patch)
			if errors.Is(err, ErrVersionConflict) {
				if attempt == 2 {
					break
				}
				p.opts.logger.DebugContext(ctx, "record changed concurrently, re-reading",
					logger.EventID(ev.ID), logger.UserID(userID), logger.Attempt(attempt))
				if cur, err = p.get(ctx, userID); err != nil {
					return Outcome{}, err
				}
				continue
			}
			if err != nil {
				return Outcome{}, err
			}
		}

		if !p.recordApplied(ctx, ev, userID) {
			return Outcome{Result: ResultDuplicate, UserID: userID, Record: next}, nil
		}
		return applied(userID, next), nil
	}

	p.opts.notify(ctx, alert.Alert{
		Kind:     alert.KindConflict,
		Severity: alert.SeverityWarning,
		Summary:  "webhook event lost the compare-and-set race twice",
		UserID:   userID,
		EventID:  ev.ID,
		Details:  map[string]string{"event_type": string(ev.Type)},
	})
	return rejected(userID, ReasonConflict), nil
}

// classify turns ev into a patch against cur, or returns the rule it violates.
func (p *Processor) classify(cur *Record, ev Event) (Patch, error) {
	var (
		patch Patch
		err   error
	)
	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		patch, err = p.classifyLifecycle(cur, ev)
	case EventSubscriptionDeleted:
		patch = p.classifyDeleted(cur, ev)
	case EventInvoicePaid:
		patch, err = p.classifyInvoicePaid(cur, ev)
	case EventInvoiceFailed:
		patch, err = classifyInvoiceFailed(cur, ev)
	default:
		return Patch{}, ErrUnsupportedEvent
	}
	if err != nil {
		return Patch{}, err
	}
	if err := validatePatch(cur, patch, providerPolicy); err != nil {
		return Patch{}, err
	}
	return patch, nil
}

func (p *Processor) classifyLifecycle(cur *Record, ev Event) (Patch, error) {
	pl := ev.Payload
	if !pl.HasPeriod() {
		return Patch{}, ErrInvalidPayload
	}
	if !pl.PeriodEnd.After(pl.PeriodStart) {
		return Patch{}, ErrInvalidPeriod
	}
	if !cur.PeriodEnd.IsZero() && pl.PeriodEnd.Before(cur.PeriodEnd) {
		return Patch{}, ErrOutOfOrder
	}

	status := pl.Status
	if status == "" {
		status = StatusActive
	}
	if !status.Valid() || status == StatusNone {
		return Patch{}, ErrInvalidPayload
	}

	// A canceled subscription only comes back with a new subscription or a new period.
	sameSubscription := pl.SubscriptionRef == "" || pl.SubscriptionRef == cur.SubscriptionRef
	if cur.IsCanceled() && status != StatusCanceled && sameSubscription && !pl.PeriodEnd.After(cur.PeriodEnd) {
		return Patch{}, ErrOutOfOrder
	}

	var patch Patch
	if pl.SubscriptionRef != "" {
		patch.SubscriptionRef = Set(pl.SubscriptionRef)
	}
	planID, period := p.opts.resolvePlan(pl.PlanID, pl.PriceRef, pl.BillingPeriod)
	if planID != "" {
		patch.PlanID = Set(planID)
	}
	if pl.PriceRef != "" {
		patch.PriceRef = Set(pl.PriceRef)
	}
	if period != "" {
		patch.BillingPeriod = Set(period)
	}
	patch.Status = Set(status)
	patch.PeriodStart = Set(pl.PeriodStart)
	patch.PeriodEnd = Set(pl.PeriodEnd)

	if status == StatusActive && cur.StartedAt == nil {
		patch.StartedAt = Set(p.activationTime(ev))
	}

	switch {
	case status == StatusCanceled:
		patch.ExpiresAt = Set(laterOf(cur.ExpiresAt, timePtr(pl.EndedAt), timePtr(pl.PeriodEnd)))
	case pl.CancelAtPeriodEnd:
		patch.ExpiresAt = Set(laterOf(cur.ExpiresAt, timePtr(pl.PeriodEnd)))
	case status == StatusActive && cur.ExpiresAt != nil:
		patch.ExpiresAt = Set[*time.Time](nil)
	}

	return trimUnchanged(cur, patch), nil
}

func (p *Processor) classifyDeleted(cur *Record, ev Event) Patch {
	pl := ev.Payload
	expires := laterOf(cur.ExpiresAt, timePtr(pl.EndedAt), timePtr(pl.PeriodEnd), timePtr(cur.PeriodEnd))
	if expires == nil {
		expires = p.activationTime(ev)
	}

	var patch Patch
	patch.Status = Set(StatusCanceled)
	patch.ExpiresAt = Set(expires)
	return trimUnchanged(cur, patch)
}

func (p *Processor) classifyInvoicePaid(cur *Record, ev Event) (Patch, error) {
	pl := ev.Payload

	// The period is refreshed only when the invoice carries one.
	var patch Patch
	if pl.HasPeriod() {
		if !pl.PeriodEnd.After(pl.PeriodStart) {
			return Patch{}, ErrInvalidPeriod
		}
		switch {
		case cur.PeriodEnd.IsZero():
			patch.PeriodStart = Set(pl.PeriodStart)
			patch.PeriodEnd = Set(pl.PeriodEnd)
		case pl.PeriodStart.Equal(cur.PeriodStart) && !pl.PeriodEnd.Before(cur.PeriodEnd):
			if pl.PeriodEnd.After(cur.PeriodEnd) {
				patch.PeriodEnd = Set(pl.PeriodEnd)
			}
		case !pl.PeriodStart.Before(cur.PeriodEnd):
			patch.PeriodStart = Set(pl.PeriodStart)
			patch.PeriodEnd = Set(pl.PeriodEnd)
		default:
			return Patch{}, ErrOutOfOrder
		}
	}

	if pl.SubscriptionRef != "" && cur.SubscriptionRef == "" {
		patch.SubscriptionRef = Set(pl.SubscriptionRef)
	}

	// A paid invoice settles a failed payment but never revives a canceled subscription.
	if cur.Status == StatusPastDue || cur.Status == StatusNone {
		patch.Status = Set(StatusActive)
		if cur.StartedAt == nil {
			patch.StartedAt = Set(p.activationTime(ev))
		}
	}
	return trimUnchanged(cur, patch), nil
}

func classifyInvoiceFailed(cur *Record, ev Event) (Patch, error) {
	pl := ev.Payload
	if pl.HasPeriod() && !pl.PeriodEnd.After(pl.PeriodStart) {
		return Patch{}, ErrInvalidPeriod
	}
	if !pl.PeriodEnd.IsZero() && !cur.PeriodEnd.IsZero() && pl.PeriodEnd.Before(cur.PeriodEnd) {
		return Patch{}, ErrOutOfOrder
	}

	var patch Patch
	if !cur.IsCanceled() {
		patch.Status = Set(StatusPastDue)
	}
	return trimUnchanged(cur, patch), nil
}

func (p *Processor) activationTime(ev Event) *time.Time {
	if !ev.OccurredAt.IsZero() {
		return cloneTime(&ev.OccurredAt)
	}
	now := p.opts.now()
	return cloneTime(&now)
}

// recordApplied writes the ledger entry. A failure here is logged only: the
// record is already updated and a redelivery re-classifies to a no-op.
// recordApplied writes the ledger entry of an applied event. It reports false
// when a concurrent delivery of the same event recorded it first. A failed
// write is logged and counts as recorded; the record is already consistent.
func (p *Processor) recordApplied(ctx context.Context, ev Event, userID string) bool {
	cctx, cancel := p.opts.callCtx(ctx)
	defer cancel()
	first, err := p.ledger.Record(cctx, ev.ID, p.opts.now())
	if err != nil {
		p.opts.logger.WarnContext(ctx, "failed to record processed event",
			logger.EventID(ev.ID),
			logger.UserID(userID),
			logger.Error(err),
		)
		return true
	}
	return first
}

func (p *Processor) seen(ctx context.Context, eventID string) (bool, error) {
	cctx, cancel := p.opts.callCtx(ctx)
	defer cancel()
	seen, err := p.ledger.Seen(cctx, eventID)
	if err != nil {
		return false, errors.Join(ErrLedgerFailure, err)
	}
	return seen, nil
}

func (p *Processor) findByCustomer(ctx context.Context, ref string) (*Record, error) {
	cctx, cancel := p.opts.callCtx(ctx)
	defer cancel()
	rec, err := p.store.FindByCustomerRef(cctx, ref)
	return rec, storeErr(err)
}

func (p *Processor) get(ctx context.Context, userID string) (*Record, error) {
	cctx, cancel := p.opts.callCtx(ctx)
	defer cancel()
	rec, err := p.store.Get(cctx, userID)
	return rec, storeErr(err)
}

func (p *Processor) compareAndSet(ctx context.Context, userID string, version int64, patch Patch) (*Record, error) {
	cctx, cancel := p.opts.callCtx(ctx)
	defer cancel()
	rec, err := p.store.CompareAndSet(cctx, userID, version, patch)
	return rec, storeErr(err)
}

// storeErr keeps domain errors as they are and marks everything else as a store failure.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrCustomerRefTaken),
		errors.Is(err, ErrStoreUnavailable):
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}

// trimUnchanged drops patch fields whose value already matches cur,
// so that a redelivered event does not bump the record version.
func trimUnchanged(cur *Record, patch Patch) Patch {
	if v, ok := patch.SubscriptionRef.Get(); ok && v == cur.SubscriptionRef {
		patch.SubscriptionRef = Optional[string]{}
	}
	if v, ok := patch.PlanID.Get(); ok && v == cur.PlanID {
		patch.PlanID = Optional[string]{}
	}
	if v, ok := patch.PriceRef.Get(); ok && v == cur.PriceRef {
		patch.PriceRef = Optional[string]{}
	}
	if v, ok := patch.BillingPeriod.Get(); ok && v == cur.BillingPeriod {
		patch.BillingPeriod = Optional[BillingPeriod]{}
	}
	if v, ok := patch.Status.Get(); ok && v == cur.Status {
		patch.Status = Optional[SubscriptionStatus]{}
	}
	if v, ok := patch.PeriodStart.Get(); ok && v.Equal(cur.PeriodStart) {
		patch.PeriodStart = Optional[time.Time]{}
	}
	if v, ok := patch.PeriodEnd.Get(); ok && v.Equal(cur.PeriodEnd) {
		patch.PeriodEnd = Optional[time.Time]{}
	}
	if v, ok := patch.StartedAt.Get(); ok && sameTime(v, cur.StartedAt) {
		patch.StartedAt = Optional[*time.Time]{}
	}
	if v, ok := patch.ExpiresAt.Get(); ok && sameTime(v, cur.ExpiresAt) {
		patch.ExpiresAt = Optional[*time.Time]{}
	}
	return patch
}
