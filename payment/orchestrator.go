package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/go-course-storefront/cart"
	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/payment/pendingrepo"
	"github.com/jrsteele09/go-course-storefront/popup"
	"github.com/jrsteele09/go-course-storefront/transport"
	"github.com/jrsteele09/go-course-storefront/users"
	"github.com/rs/zerolog"
)

const (
	msgPrepareFailed  = "payment preparation failed"
	msgApproveFailed  = "payment approval failed"
	msgPaymentFailed  = "payment processing failed"
	msgNoRedirect     = "the payment response did not include a payer URL"
	msgPopupBlocked   = "the payment window was blocked, allow popups and try again"
	msgTimedOut       = "payment timed out"
	msgCancelled      = "payment was cancelled"
	msgAttemptCleared = "payment attempt was cleared"
	msgNoConfirmation = "payment success was reported without a payer token or confirmation"
)

// IdentitySource reports the signed-in member
type IdentitySource interface {
	CurrentIdentity() (users.Identity, bool)
}

// PopupChannel is the payer window capability
type PopupChannel interface {
	Open(ctx context.Context, url string) (popup.Window, error)
	Monitor(w popup.Window, onClosed func(), onMessage func(popup.Message)) (cancel func())
	Close(w popup.Window) error
}

type Option func(*Orchestrator)

// WithSettledHook registers the collaborator told exactly once per settled payment
func WithSettledHook(fn func(Receipt)) Option {
	return func(o *Orchestrator) {
		o.onSettled = fn
	}
}

// WithPendingRepo persists the attempt while the payer is away so it can be restored
func WithPendingRepo(repo pendingrepo.Repo) Option {
	return func(o *Orchestrator) {
		o.pending = repo
	}
}

// Orchestrator drives one payment attempt at a time from preparation to a
// terminal state. The first terminal transition wins; later backend
// responses, messages and closures for that attempt are ignored.
type Orchestrator struct {
	backend   *Backend
	popup     PopupChannel
	identity  IdentitySource
	config    config.PaymentConfig
	log       zerolog.Logger
	pending   pendingrepo.Repo
	onSettled func(Receipt)
	now       func() time.Time

	mu          sync.Mutex
	attempt     Attempt
	generation  uint64
	memberID    int64
	window      popup.Window
	stopMonitor func()
	done        chan struct{}
	closeDone   func()
	lastErr     error
	history     []Receipt

	// background backend calls that outlive the transition that started them
	background sync.WaitGroup
}

func NewOrchestrator(backend *Backend, channel PopupChannel, identity IdentitySource, cfg config.PaymentConfig, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		popup:    channel,
		identity: identity,
		config:   cfg,
		log:      logger.With().Str("component", "payment").Logger(),
		now:      time.Now,
		attempt:  Attempt{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns a copy of the current attempt
func (o *Orchestrator) Snapshot() Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempt.clone()
}

// Done is closed when the current attempt ends or is cleared. It is nil while idle.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// AwaitTerminal blocks until the current attempt ends and returns its final state
func (o *Orchestrator) AwaitTerminal(ctx context.Context) (Attempt, error) {
	done := o.Done()
	if done == nil {
		return o.Snapshot(), apperrors.ErrNoPendingAttempt
	}
	select {
	case <-done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.attempt.clone(), o.lastErr
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

// Wait blocks until background backend calls such as cancellations have finished
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// History returns the payments settled in this session, newest first
func (o *Orchestrator) History() []Receipt {
	o.mu.Lock()
	defer o.mu.Unlock()
	receipts := make([]Receipt, 0, len(o.history))
	for _, r := range o.history {
		receipts = append(receipts, r.clone())
	}
	return receipts
}

// StartCheckout prepares a payment for items and opens the payer window.
// It returns once the payer window is open or the attempt has failed.
func (o *Orchestrator) StartCheckout(ctx context.Context, items []cart.Item) (Attempt, error) {
	identity, ok := o.identity.CurrentIdentity()
	if !ok {
		return o.Snapshot(), apperrors.ErrNotLoggedIn
	}
	if err := validateItems(items); err != nil {
		return o.Snapshot(), err
	}

	o.mu.Lock()
	if o.attempt.Status.IsActive() {
		snap := o.attempt.clone()
		o.mu.Unlock()
		return snap, apperrors.ErrAttemptActive
	}
	gen := o.beginLocked(identity.ID, items)
	req := ReadyRequest{
		MemberID:       identity.ID,
		LectureIDs:     lectureIDs(items),
		PartnerOrderID: o.attempt.PartnerOrderID,
		PartnerUserID:  strconv.FormatInt(identity.ID, 10),
		ItemName:       o.attempt.ItemName,
		TotalAmount:    o.attempt.TotalAmount,
	}
	o.mu.Unlock()

	o.log.Info().Str("order_id", req.PartnerOrderID).Int64("amount", req.TotalAmount).Msg("preparing payment")
	ready, err := o.backend.Ready(ctx, req)

	o.mu.Lock()
	if !o.isCurrentLocked(gen, StatusPreparing) {
		return o.discardLocked(gen, "payment preparation")
	}
	if err != nil {
		o.log.Warn().Err(err).Msg("payment preparation failed")
		return o.failAndReturnLocked(apperrors.ErrPaymentPrepare, transport.ErrorMessage(err, msgPrepareFailed), err)
	}
	if ready.RedirectURL == "" {
		return o.failAndReturnLocked(apperrors.ErrNoRedirectURL, msgNoRedirect, nil)
	}
	o.attempt.PaymentID = ready.PaymentID
	o.attempt.RedirectURL = ready.RedirectURL
	pending := o.pendingLocked()
	o.mu.Unlock()

	o.savePending(ctx, pending)

	o.mu.Lock()
	if !o.isCurrentLocked(gen, StatusPreparing) {
		o.mu.Unlock()
		// the attempt ended while the record was written and its delete already ran
		o.deleteStalePending(pending)
		o.mu.Lock()
		return o.discardLocked(gen, "pending payment")
	}
	o.mu.Unlock()

	w, err := o.popup.Open(ctx, ready.RedirectURL)

	o.mu.Lock()
	if !o.isCurrentLocked(gen, StatusPreparing) {
		o.mu.Unlock()
		if err == nil {
			_ = o.popup.Close(w)
		}
		o.mu.Lock()
		return o.discardLocked(gen, "payer window")
	}
	if err != nil {
		o.log.Warn().Err(err).Msg("payer window blocked")
		return o.failAndReturnLocked(apperrors.ErrPopupBlocked, msgPopupBlocked, err)
	}

	o.attempt.Status = StatusAwaitingPayer
	o.attempt.PopupOpen = true
	o.window = w
	o.stopMonitor = o.popup.Monitor(w,
		func() { o.handleClosed(gen) },
		func(msg popup.Message) { o.handleMessage(gen, msg) },
	)
	snap := o.attempt.clone()
	o.mu.Unlock()

	o.log.Info().Str("payment_id", snap.PaymentID).Msg("awaiting payer")
	return snap, nil
}

// ForceClosePopup ends an in-progress attempt as timed out and closes the
// payer window. A backend call already in flight is not cancelled; its
// response is discarded. It does nothing when no attempt is in progress.
func (o *Orchestrator) ForceClosePopup() {
	o.mu.Lock()
	if !o.attempt.Status.IsActive() {
		o.mu.Unlock()
		return
	}
	effects := o.finishLocked(StatusFailed, &AttemptError{Kind: apperrors.ErrPaymentTimeout, Message: msgTimedOut})
	o.mu.Unlock()

	o.log.Warn().Msg("payment timed out, payer window closed")
	effects()
}

// ClearCurrentOrder returns to idle, dropping the payment id, payer window
// and error message. It is a no-op when already idle.
func (o *Orchestrator) ClearCurrentOrder() {
	o.mu.Lock()
	if o.attempt.Status == StatusIdle {
		o.mu.Unlock()
		return
	}

	w, stop, closeDone := o.window, o.stopMonitor, o.closeDone
	memberID, wasActive := o.memberID, o.attempt.Status.IsActive()
	o.generation++
	o.attempt = Attempt{Status: StatusIdle}
	o.window, o.stopMonitor = nil, nil
	o.done, o.closeDone = nil, nil
	o.lastErr = nil
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	_ = o.popup.Close(w)
	if wasActive {
		o.deletePending(memberID)
	}
	if closeDone != nil {
		closeDone()
	}
}

// RestorePending returns the payment the member was last sent to pay for, if
// it has not reached a terminal state.
func (o *Orchestrator) RestorePending(ctx context.Context) (*pendingrepo.PendingPayment, error) {
	identity, ok := o.identity.CurrentIdentity()
	if !ok {
		return nil, apperrors.ErrNotLoggedIn
	}
	if o.pending == nil {
		return nil, apperrors.ErrNoPendingAttempt
	}
	p, err := o.pending.Get(ctx, identity.ID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrNoPendingAttempt
	}
	return p, err
}

// DiscardPending cancels a restored payment at the backend and forgets it
func (o *Orchestrator) DiscardPending(ctx context.Context) error {
	p, err := o.RestorePending(ctx)
	if err != nil {
		return err
	}
	if err := o.backend.Cancel(ctx, p.PaymentID); err != nil {
		o.log.Warn().Err(err).Str("payment_id", p.PaymentID).Msg("backend cancel of pending payment failed")
	}
	return o.pending.Delete(ctx, p.MemberID)
}

// LoadHistory fetches the member's settled orders from the backend
func (o *Orchestrator) LoadHistory(ctx context.Context) ([]Order, error) {
	identity, ok := o.identity.CurrentIdentity()
	if !ok {
		return nil, apperrors.ErrNotLoggedIn
	}
	return o.backend.OrderHistory(ctx, identity.ID)
}

func (o *Orchestrator) handleMessage(gen uint64, msg popup.Message) {
	o.mu.Lock()
	if gen != o.generation || !o.attempt.Status.IsActive() {
		o.mu.Unlock()
		o.log.Debug().Str("type", msg.Type).Msg("ignoring message for a finished attempt")
		return
	}

	switch msg.Type {
	case popup.MessagePaymentSuccess:
		o.handleSuccessLocked(gen, msg)
	case popup.MessagePaymentFailed:
		text := firstNonEmpty(msg.Error, msg.Message, msgPaymentFailed)
		effects := o.finishLocked(StatusFailed, &AttemptError{Kind: apperrors.ErrPaymentFailed, Message: text})
		o.mu.Unlock()
		o.log.Info().Str("reason", text).Msg("payer reported failure")
		effects()
	case popup.MessagePaymentCancelled:
		effects := o.cancelLocked()
		o.mu.Unlock()
		o.log.Info().Msg("payer cancelled")
		effects()
	default:
		o.mu.Unlock()
	}
}

// handleSuccessLocked is entered with the lock held and releases it
func (o *Orchestrator) handleSuccessLocked(gen uint64, msg popup.Message) {
	if o.attempt.Status != StatusAwaitingPayer {
		o.mu.Unlock()
		return
	}
	if msg.PaymentID != "" && msg.PaymentID != o.attempt.PaymentID {
		o.mu.Unlock()
		o.log.Warn().Str("payment_id", msg.PaymentID).Msg("ignoring success for another payment")
		return
	}

	if msg.PgToken == "" {
		var effects func()
		if hasResult(msg.Result) {
			// the payer page already settled the payment with the backend
			effects = o.succeedLocked(msg.Result)
		} else {
			effects = o.finishLocked(StatusFailed, &AttemptError{Kind: apperrors.ErrPaymentFailed, Message: msgNoConfirmation})
			o.log.Warn().Msg("success reported without a payer token or result")
		}
		o.mu.Unlock()
		effects()
		return
	}

	o.attempt.Status = StatusApproving
	o.attempt.PopupOpen = false
	w, stop := o.window, o.stopMonitor
	o.window, o.stopMonitor = nil, nil
	paymentID := o.attempt.PaymentID
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	_ = o.popup.Close(w)
	o.approve(gen, paymentID, msg.PgToken)
}

func (o *Orchestrator) approve(gen uint64, paymentID, pgToken string) {
	o.log.Info().Str("payment_id", paymentID).Msg("approving payment")
	ctx, cancel := context.WithTimeout(context.Background(), o.config.GetPaymentTimeout())
	defer cancel()
	result, err := o.backend.Approve(ctx, paymentID, pgToken)

	o.mu.Lock()
	if !o.isCurrentLocked(gen, StatusApproving) {
		o.mu.Unlock()
		o.log.Info().Str("payment_id", paymentID).Msg("discarding approval response for a finished attempt")
		return
	}
	var effects func()
	if err != nil {
		text := transport.ErrorMessage(err, msgApproveFailed)
		effects = o.finishLocked(StatusFailed, &AttemptError{Kind: apperrors.ErrPaymentApprove, Message: text, Cause: err})
		o.log.Warn().Err(err).Msg("payment approval failed")
	} else {
		effects = o.succeedLocked(result)
	}
	o.mu.Unlock()
	effects()
}

func (o *Orchestrator) handleClosed(gen uint64) {
	o.mu.Lock()
	if !o.isCurrentLocked(gen, StatusAwaitingPayer) {
		o.mu.Unlock()
		return
	}
	effects := o.cancelLocked()
	o.mu.Unlock()

	o.log.Info().Msg("payer window closed without a result")
	effects()
}

// beginLocked starts a new attempt in the preparing state
func (o *Orchestrator) beginLocked(memberID int64, items []cart.Item) uint64 {
	o.generation++
	o.memberID = memberID
	o.attempt = Attempt{
		PartnerOrderID: newPartnerOrderID(o.now()),
		ItemName:       itemName(items),
		Items:          slices.Clone(items),
		TotalAmount:    totalAmount(items),
		Status:         StatusPreparing,
	}
	o.lastErr = nil
	done := make(chan struct{})
	o.done = done
	o.closeDone = sync.OnceFunc(func() { close(done) })
	return o.generation
}

func (o *Orchestrator) isCurrentLocked(gen uint64, status Status) bool {
	return gen == o.generation && o.attempt.Status == status
}

// discardLocked reports the outcome of an attempt that moved on while a call
// was in flight. It releases the lock.
func (o *Orchestrator) discardLocked(gen uint64, what string) (Attempt, error) {
	defer o.mu.Unlock()
	o.log.Info().Str("stage", what).Msg("discarding result for a finished attempt")
	if gen != o.generation {
		return o.attempt.clone(), &AttemptError{Status: StatusIdle, Kind: apperrors.ErrPaymentFailed, Message: msgAttemptCleared}
	}
	return o.attempt.clone(), o.lastErr
}

// failAndReturnLocked fails the current attempt and releases the lock
func (o *Orchestrator) failAndReturnLocked(kind error, message string, cause error) (Attempt, error) {
	err := &AttemptError{Kind: kind, Message: message, Cause: cause}
	effects := o.finishLocked(StatusFailed, err)
	snap := o.attempt.clone()
	o.mu.Unlock()
	effects()
	return snap, err
}

// cancelLocked ends the attempt as cancelled and tells the backend, best effort
func (o *Orchestrator) cancelLocked() func() {
	paymentID := o.attempt.PaymentID
	effects := o.finishLocked(StatusCancelled, nil)
	o.attempt.ErrorMessage = msgCancelled
	if paymentID == "" {
		return effects
	}

	o.background.Add(1)
	return func() {
		go func() {
			defer o.background.Done()
			ctx, cancel := context.WithTimeout(context.Background(), o.config.GetCancelTimeout())
			defer cancel()
			if err := o.backend.Cancel(ctx, paymentID); err != nil {
				o.log.Warn().Err(err).Str("payment_id", paymentID).Msg("backend cancel failed")
			}
		}()
		effects()
	}
}

// succeedLocked settles the attempt, records the receipt and schedules the
// settled hook
func (o *Orchestrator) succeedLocked(result json.RawMessage) func() {
	receipt := Receipt{
		PaymentID:      o.attempt.PaymentID,
		PartnerOrderID: o.attempt.PartnerOrderID,
		ItemName:       o.attempt.ItemName,
		Items:          slices.Clone(o.attempt.Items),
		TotalAmount:    o.attempt.TotalAmount,
		SettledAt:      o.now(),
		Result:         slices.Clone(result),
	}
	o.attempt.Receipt = &receipt
	o.history = append([]Receipt{receipt}, o.history...)

	hook := o.onSettled
	effects := o.finishLocked(StatusSucceeded, nil)
	o.log.Info().Str("payment_id", receipt.PaymentID).Int64("amount", receipt.TotalAmount).Msg("payment settled")

	return func() {
		if hook != nil {
			hook(receipt.clone())
		}
		effects()
	}
}

// finishLocked moves the attempt to a terminal status. The returned function
// must be called after the lock is released: it stops monitoring, closes the
// payer window, forgets the pending record and wakes Done waiters.
func (o *Orchestrator) finishLocked(status Status, failure *AttemptError) func() {
	o.attempt.Status = status
	o.attempt.PopupOpen = false
	o.attempt.ErrorMessage = ""
	o.lastErr = nil
	if failure != nil {
		failure.Status = status
		o.attempt.ErrorMessage = failure.Message
		o.lastErr = failure
	}

	w, stop, closeDone := o.window, o.stopMonitor, o.closeDone
	o.window, o.stopMonitor = nil, nil
	memberID := o.memberID

	return func() {
		if stop != nil {
			stop()
		}
		if err := o.popup.Close(w); err != nil {
			o.log.Warn().Err(err).Msg("closing payer window")
		}
		o.deletePending(memberID)
		if closeDone != nil {
			closeDone()
		}
	}
}

func (o *Orchestrator) pendingLocked() *pendingrepo.PendingPayment {
	return &pendingrepo.PendingPayment{
		MemberID:       o.memberID,
		PaymentID:      o.attempt.PaymentID,
		PartnerOrderID: o.attempt.PartnerOrderID,
		ItemName:       o.attempt.ItemName,
		TotalAmount:    o.attempt.TotalAmount,
		Items:          slices.Clone(o.attempt.Items),
		CreatedAt:      o.now(),
	}
}

func (o *Orchestrator) savePending(ctx context.Context, p *pendingrepo.PendingPayment) {
	if o.pending == nil {
		return
	}
	if err := o.pending.Upsert(ctx, p, o.config.GetPendingPaymentTTL()); err != nil {
		o.log.Warn().Err(err).Msg("could not persist pending payment")
	}
}

func (o *Orchestrator) deletePending(memberID int64) {
	if o.pending == nil || memberID == 0 {
		return
	}
	if err := o.pending.Delete(context.Background(), memberID); err != nil {
		o.log.Warn().Err(err).Msg("could not remove pending payment")
	}
}

// deleteStalePending removes p unless a newer attempt has replaced it
func (o *Orchestrator) deleteStalePending(p *pendingrepo.PendingPayment) {
	if o.pending == nil {
		return
	}
	stored, err := o.pending.Get(context.Background(), p.MemberID)
	if err != nil || stored.PaymentID != p.PaymentID {
		return
	}
	o.deletePending(p.MemberID)
}

func validateItems(items []cart.Item) error {
	if len(items) == 0 {
		return apperrors.Wrapf(apperrors.ErrValidation, "no items to pay for")
	}
	for _, item := range items {
		if item.Price <= 0 {
			return apperrors.Wrapf(apperrors.ErrValidation, "item %d has no positive price", item.ID)
		}
	}
	return nil
}

func lectureIDs(items []cart.Item) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func hasResult(result json.RawMessage) bool {
	trimmed := bytes.TrimSpace(result)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
