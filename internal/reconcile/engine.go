package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"quiosque/api/internal/mercadopago"
)

// Status is what the kiosk UI ever sees. Gateway faults are absorbed into
// pending; the client's poll loop is the sole timeout authority.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusCanceled Status = "canceled"
)

// ErrNoDevice is returned when a card charge is requested for a store with no
// Point terminal configured.
var ErrNoDevice = errors.New("reconcile: store has no terminal device configured")

// Gateway is the slice of the Mercado Pago client the engine drives.
type Gateway interface {
	CreateIntent(ctx context.Context, deviceID string, amount int64, reference string) (string, error)
	GetIntent(ctx context.Context, intentID string) (*mercadopago.PaymentIntent, error)
	DeleteIntent(ctx context.Context, deviceID, intentID string) error
	ListIntents(ctx context.Context, deviceID string) ([]mercadopago.PaymentIntent, error)
	CreatePixPayment(ctx context.Context, params mercadopago.PixParams) (*mercadopago.Payment, error)
	GetPayment(ctx context.Context, paymentID int64) (*mercadopago.Payment, error)
	SearchPayments(ctx context.Context, filter mercadopago.SearchFilter) ([]mercadopago.Payment, error)
}

// ChargeKind tags what a public charge id points at: a terminal intent or a
// gateway payment. Resolved once when the charge is created, so status checks
// never have to probe both lookups.
type ChargeKind string

const (
	ChargeCard ChargeKind = "card" // terminal payment intent
	ChargePix  ChargeKind = "pix"  // gateway payment
)

// ChargeRef identifies one in-flight charge attempt.
type ChargeRef struct {
	Kind      ChargeKind
	IntentID  string // card
	PaymentID int64  // pix
	Amount    int64  // expected amount in centavos
	Reference string // internal order id; unreliable on the card path
}

// PublicID is the id the kiosk client polls with.
func (c ChargeRef) PublicID() string {
	if c.Kind == ChargePix {
		return strconv.FormatInt(c.PaymentID, 10)
	}
	return c.IntentID
}

// Options are the engine's tunables. Zero values pick the defaults below.
type Options struct {
	DeleteRetryDelay time.Duration // backoff before the single retry of a 409 delete
	SearchWindow     time.Duration // how far back the fuzzy amount search looks
	SearchLimit      int           // max payments pulled per fuzzy search
	AmountEpsilon    float64       // tolerance for amount matching, major units
}

func (o Options) withDefaults() Options {
	if o.DeleteRetryDelay <= 0 {
		o.DeleteRetryDelay = 2 * time.Second
	}
	if o.SearchWindow <= 0 {
		o.SearchWindow = 15 * time.Minute
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 20
	}
	if o.AmountEpsilon <= 0 {
		o.AmountEpsilon = 0.01
	}
	return o
}

// Engine orchestrates intent creation, multi-strategy status resolution and
// terminal-queue cleanup for one store's terminal.
type Engine struct {
	gw       Gateway
	registry *Registry
	deviceID string
	opts     Options

	now   func() time.Time
	sleep func(time.Duration)

	mu      sync.Mutex
	charges map[string]ChargeRef // public id → charge, resolved at creation
}

func NewEngine(gw Gateway, registry *Registry, deviceID string, opts Options) *Engine {
	return &Engine{
		gw:       gw,
		registry: registry,
		deviceID: deviceID,
		opts:     opts.withDefaults(),
		now:      time.Now,
		sleep:    time.Sleep,
		charges:  make(map[string]ChargeRef),
	}
}

// HasDevice reports whether this engine drives a Point terminal.
func (e *Engine) HasDevice() bool { return e.deviceID != "" }

// ---------- Create ----------

// CreateCardPayment registers a charge on the store's terminal and returns
// its reference. It does not wait for completion; that is observed by
// polling and by the webhook. A crashed or abandoned earlier attempt can
// leave the terminal busy and rejecting new intents, so any queued intents
// are cleared first.
func (e *Engine) CreateCardPayment(ctx context.Context, amount int64, reference string) (ChargeRef, error) {
	if e.deviceID == "" {
		return ChargeRef{}, ErrNoDevice
	}

	if existing, err := e.gw.ListIntents(ctx, e.deviceID); err != nil {
		log.Printf("reconcile: pre-create list intents: %v", err)
	} else {
		for _, intent := range existing {
			if err := e.deleteIntent(ctx, intent.ID); err != nil {
				log.Printf("reconcile: pre-create delete intent %s: %v", intent.ID, err)
			}
		}
	}

	intentID, err := e.gw.CreateIntent(ctx, e.deviceID, amount, reference)
	if err != nil {
		// Creation failures surface to the operator so they can offer
		// another payment path.
		return ChargeRef{}, fmt.Errorf("create card payment: %w", err)
	}

	ref := ChargeRef{Kind: ChargeCard, IntentID: intentID, Amount: amount, Reference: reference}
	e.track(ref)
	log.Printf("reconcile: intent %s created (amount: %d, ref: %s)", intentID, amount, reference)
	return ref, nil
}

// CreatePixPayment creates a PIX payment and tracks it for status polling.
func (e *Engine) CreatePixPayment(ctx context.Context, params mercadopago.PixParams) (*mercadopago.Payment, ChargeRef, error) {
	payment, err := e.gw.CreatePixPayment(ctx, params)
	if err != nil {
		return nil, ChargeRef{}, err
	}
	ref := ChargeRef{
		Kind:      ChargePix,
		PaymentID: payment.ID,
		Amount:    int64(payment.TransactionAmount * 100),
		Reference: params.Reference,
	}
	e.track(ref)
	log.Printf("reconcile: pix payment %d created (ref: %s)", payment.ID, params.Reference)
	return payment, ref, nil
}

func (e *Engine) track(ref ChargeRef) {
	e.mu.Lock()
	e.charges[ref.PublicID()] = ref
	e.mu.Unlock()
}

// resolveCharge maps a public id back to its charge. After a restart the
// in-memory map is empty; the id shape disambiguates (gateway payment ids
// are numeric, intent ids are not) and strategy 2 recovers amount and
// reference from the intent itself.
func (e *Engine) resolveCharge(publicID string) ChargeRef {
	e.mu.Lock()
	ref, ok := e.charges[publicID]
	e.mu.Unlock()
	if ok {
		return ref
	}
	if paymentID, err := strconv.ParseInt(publicID, 10, 64); err == nil {
		return ChargeRef{Kind: ChargePix, PaymentID: paymentID}
	}
	return ChargeRef{Kind: ChargeCard, IntentID: publicID}
}

// ---------- Resolve status ----------

// CheckPaymentStatus resolves the current status of a charge. Strategies run
// in strict priority order and short-circuit on the first hit:
//
//  1. registry lookup (reference key, then amount key) — no network
//  2. terminal intent inspection
//  3. reference-based payment search
//  4. amount + time-window fuzzy search
//  5. pending
//
// Transient gateway errors are swallowed and reported as pending; polling is
// the client's timeout mechanism. Multiple polls may each report approved for
// the same order — the order flow makes the paid transition idempotent.
func (e *Engine) CheckPaymentStatus(ctx context.Context, publicID string) Status {
	ref := e.resolveCharge(publicID)
	if ref.Kind == ChargePix {
		return e.checkPixStatus(ctx, ref)
	}
	return e.checkCardStatus(ctx, ref)
}

func (e *Engine) checkPixStatus(ctx context.Context, ref ChargeRef) Status {
	if ref.Reference != "" {
		if entry, ok := e.registry.Lookup(ctx, RefKey(ref.Reference)); ok {
			log.Printf("reconcile: pix %d approved via registry (payment: %d)", ref.PaymentID, entry.PaymentID)
			return StatusApproved
		}
	}

	payment, err := e.gw.GetPayment(ctx, ref.PaymentID)
	if err != nil {
		log.Printf("reconcile: get pix payment %d: %v", ref.PaymentID, err)
		return StatusPending
	}
	switch {
	case payment.Approved():
		return StatusApproved
	case payment.Status == "rejected" || payment.Status == "cancelled":
		return StatusCanceled
	default:
		return StatusPending
	}
}

func (e *Engine) checkCardStatus(ctx context.Context, ref ChargeRef) Status {
	// Strategy 1: registry — webhook confirmations, zero gateway calls.
	if ref.Reference != "" {
		if _, ok := e.registry.Lookup(ctx, RefKey(ref.Reference)); ok {
			log.Printf("reconcile: intent %s approved via registry (ref key)", ref.IntentID)
			e.cleanupIntent(ref.IntentID)
			return StatusApproved
		}
	}
	if ref.Amount > 0 {
		if _, ok := e.registry.Lookup(ctx, AmountKey(float64(ref.Amount)/100)); ok {
			log.Printf("reconcile: intent %s approved via registry (amount key)", ref.IntentID)
			e.cleanupIntent(ref.IntentID)
			return StatusApproved
		}
	}

	// Strategy 2: ask the terminal about the intent itself.
	intent, err := e.gw.GetIntent(ctx, ref.IntentID)
	switch {
	case mercadopago.IsNotFound(err):
		// A terminal-side purge does not mean the charge failed; later
		// strategies may still find the payment.
	case err != nil:
		log.Printf("reconcile: get intent %s: %v", ref.IntentID, err)
		return StatusPending
	default:
		// Recover amount/reference lost across a restart.
		if ref.Amount == 0 {
			ref.Amount = intent.Amount
		}
		if ref.Reference == "" {
			ref.Reference = intent.AdditionalInfo.ExternalReference
		}
		if intent.State.Paid() || intent.Payment != nil {
			e.cleanupIntent(ref.IntentID)
			return StatusApproved
		}
		if intent.State == mercadopago.IntentCanceled || intent.State == mercadopago.IntentError {
			return StatusCanceled
		}
	}

	// Strategy 3: search payments by the order reference.
	if ref.Reference != "" {
		payments, err := e.gw.SearchPayments(ctx, mercadopago.SearchFilter{
			Reference: ref.Reference,
			Limit:     e.opts.SearchLimit,
		})
		if err != nil {
			log.Printf("reconcile: search by reference %s: %v", ref.Reference, err)
			return StatusPending
		}
		// Results arrive most recent first; the first approved wins.
		for _, p := range payments {
			if p.Approved() {
				log.Printf("reconcile: intent %s approved via reference search (payment: %d)", ref.IntentID, p.ID)
				e.cleanupIntent(ref.IntentID)
				return StatusApproved
			}
		}
	}

	// Strategy 4: fuzzy amount match over recent payments. The terminal
	// often drops the reference, leaving the amount as the only signal.
	// Two orders of identical amounts inside the window are inherently
	// ambiguous; the most recent approved payment wins and the ambiguity
	// is logged. This is a documented best-effort fallback.
	if ref.Amount > 0 {
		now := e.now()
		payments, err := e.gw.SearchPayments(ctx, mercadopago.SearchFilter{
			Begin: now.Add(-e.opts.SearchWindow),
			End:   now,
			Limit: e.opts.SearchLimit,
		})
		if err != nil {
			log.Printf("reconcile: fuzzy search: %v", err)
			return StatusPending
		}
		expected := float64(ref.Amount) / 100
		var matches []mercadopago.Payment
		for _, p := range payments {
			if p.Approved() && abs(p.TransactionAmount-expected) <= e.opts.AmountEpsilon {
				matches = append(matches, p)
			}
		}
		if len(matches) > 0 {
			if len(matches) > 1 {
				log.Printf("reconcile: intent %s fuzzy match ambiguous (%d candidates for %.2f), using most recent payment %d",
					ref.IntentID, len(matches), expected, matches[0].ID)
			}
			log.Printf("reconcile: intent %s approved via amount match (payment: %d, amount: %.2f)",
				ref.IntentID, matches[0].ID, matches[0].TransactionAmount)
			e.cleanupIntent(ref.IntentID)
			return StatusApproved
		}
	}

	// Strategy 5: nothing resolved yet.
	return StatusPending
}

// cleanupIntent deletes a resolved intent so the physical terminal frees up.
// Best-effort and off the response path.
func (e *Engine) cleanupIntent(intentID string) {
	if e.deviceID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.deleteIntent(ctx, intentID); err != nil {
			log.Printf("reconcile: cleanup intent %s: %v", intentID, err)
		}
	}()
}

// ---------- Cancel / cleanup ----------

// CancelPayment cancels a single in-flight charge. For card charges this
// deletes the terminal intent; a 409 gets one retry after a fixed backoff so
// we never cancel a charge the cardholder is mid-way through completing.
func (e *Engine) CancelPayment(ctx context.Context, publicID string) error {
	ref := e.resolveCharge(publicID)
	if ref.Kind == ChargePix {
		return fmt.Errorf("pix payment %d cannot be canceled; it expires on its own", ref.PaymentID)
	}
	if e.deviceID == "" {
		return ErrNoDevice
	}
	if err := e.deleteIntent(ctx, ref.IntentID); err != nil {
		return fmt.Errorf("cancel payment: %w", err)
	}
	e.mu.Lock()
	delete(e.charges, publicID)
	e.mu.Unlock()
	return nil
}

// deleteIntent deletes with the 409-retry rule: back off once, retry once,
// then give up.
func (e *Engine) deleteIntent(ctx context.Context, intentID string) error {
	err := e.gw.DeleteIntent(ctx, e.deviceID, intentID)
	if !mercadopago.IsConflict(err) {
		return err
	}
	log.Printf("reconcile: intent %s busy, retrying delete in %s", intentID, e.opts.DeleteRetryDelay)
	e.sleep(e.opts.DeleteRetryDelay)
	return e.gw.DeleteIntent(ctx, e.deviceID, intentID)
}

// ClearQueue deletes intents queued on the terminal. With onlyDone set, only
// intents the terminal will never act on again (FINISHED, CANCELED, ERROR)
// are removed — an OPEN or PROCESSING intent may be a payment in progress.
// Individual failures are logged and skipped; one bad intent never aborts
// the sweep. Returns how many intents were deleted.
func (e *Engine) ClearQueue(ctx context.Context, onlyDone bool) (int, error) {
	if e.deviceID == "" {
		return 0, ErrNoDevice
	}
	intents, err := e.gw.ListIntents(ctx, e.deviceID)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	cleared := 0
	for _, intent := range intents {
		if onlyDone && !intent.State.Done() {
			continue
		}
		if err := e.deleteIntent(ctx, intent.ID); err != nil {
			log.Printf("reconcile: clear queue: delete intent %s (state %s): %v", intent.ID, intent.State, err)
			continue
		}
		cleared++
	}
	return cleared, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
