// Package checkout реализует двухшаговое оформление заказа с симуляцией платежа.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	// DefaultCompletionDelay: пауза между успешной оплатой и очисткой корзины.
	DefaultCompletionDelay = 3 * time.Second

	sessionRetention = time.Hour
)

// Options задаёт параметры сервиса оформления.
type Options struct {
	Logger          *log.Entry
	Metrics         *metrics.StorefrontMetrics
	CompletionDelay time.Duration
	Clock           func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики оформления.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithCompletionDelay задаёт паузу перед очисткой корзины; 0: сразу.
func WithCompletionDelay(d time.Duration) Option {
	return func(opts *Options) {
		opts.CompletionDelay = d
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service ведёт сессии оформления поверх корзины. Платёж выполняется в фоне:
// SubmitPayment сразу возвращает сессию в статусе processing.
type Service struct {
	store           *cart.Store
	payments        domain.PaymentService
	outbox          domain.OutboxRepository
	logger          *log.Entry
	metrics         *metrics.StorefrontMetrics
	completionDelay time.Duration
	now             func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.CheckoutSession

	taskCtx    context.Context
	taskCancel context.CancelFunc
	taskMu     sync.Mutex
	taskClosed bool
	taskWG     sync.WaitGroup
}

// NewService создаёт сервис оформления. outbox может быть nil.
func NewService(store *cart.Store, payments domain.PaymentService, outbox domain.OutboxRepository, options ...Option) *Service {
	opts := Options{
		CompletionDelay: DefaultCompletionDelay,
		Clock:           func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	if opts.CompletionDelay < 0 {
		opts.CompletionDelay = DefaultCompletionDelay
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	taskCtx, cancel := context.WithCancel(context.Background())

	return &Service{
		store:           store,
		payments:        payments,
		outbox:          outbox,
		logger:          logger,
		metrics:         opts.Metrics,
		completionDelay: opts.CompletionDelay,
		now:             opts.Clock,
		sessions:        make(map[string]*domain.CheckoutSession),
		taskCtx:         taskCtx,
		taskCancel:      cancel,
	}
}

// Begin открывает форму оформления. Пустая корзина: ErrCartEmpty.
func (s *Service) Begin(_ context.Context) (domain.CheckoutSession, error) {
	lines, summary := s.store.Snapshot()
	if len(lines) == 0 {
		return domain.CheckoutSession{}, domain.ErrCartEmpty
	}

	now := s.now()
	session := &domain.CheckoutSession{
		ID:        uuid.NewString(),
		Step:      domain.CheckoutStepShipping,
		Status:    domain.CheckoutStatusOpen,
		Lines:     lines,
		Summary:   summary,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.sessions[session.ID] = session
	out := cloneSession(session)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCheckoutStarted()
		s.metrics.RecordCheckoutTransition(string(domain.CheckoutStatusOpen))
	}
	s.logger.WithField("session_id", session.ID).Info("checkout started")

	return out, nil
}

// Get возвращает сессию. Для незавершённой формы суммы пересчитываются
// по текущей корзине, после запуска платежа они зафиксированы.
func (s *Service) Get(_ context.Context, id string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.CheckoutSession{}, domain.ErrCheckoutNotFound
	}
	if session.Status == domain.CheckoutStatusOpen || session.Status == domain.CheckoutStatusFailed {
		session.Lines, session.Summary = s.store.Snapshot()
	}
	return cloneSession(session), nil
}

// SubmitShipping валидирует первый шаг и переводит форму на шаг оплаты.
func (s *Service) SubmitShipping(_ context.Context, id string, details domain.ShippingDetails) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.editableLocked(id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	session.Shipping = details
	session.UpdatedAt = s.now()
	if errs := domain.ValidateShipping(details); len(errs) > 0 {
		session.Errors = errs
		return cloneSession(session), &domain.ValidationError{Fields: errs}
	}

	session.Errors = nil
	session.Step = domain.CheckoutStepPayment
	return cloneSession(session), nil
}

// Back возвращает форму с шага оплаты на шаг доставки.
func (s *Service) Back(_ context.Context, id string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.editableLocked(id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if session.Step != domain.CheckoutStepPayment {
		return cloneSession(session), domain.ErrCheckoutStep
	}

	session.Step = domain.CheckoutStepShipping
	session.Errors = nil
	session.UpdatedAt = s.now()
	return cloneSession(session), nil
}

// SubmitPayment валидирует данные карты и запускает симуляцию платежа в фоне.
// Повторная отправка во время обработки возвращает ErrCheckoutInProgress.
func (s *Service) SubmitPayment(_ context.Context, id string, details domain.PaymentDetails) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.editableLocked(id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if session.Step != domain.CheckoutStepPayment {
		return cloneSession(session), domain.ErrCheckoutStep
	}

	if errs := domain.ValidatePayment(details); len(errs) > 0 {
		session.Errors = errs
		session.UpdatedAt = s.now()
		return cloneSession(session), &domain.ValidationError{Fields: errs}
	}

	lines, summary := s.store.Snapshot()
	if len(lines) == 0 {
		return cloneSession(session), domain.ErrCartEmpty
	}

	session.Errors = nil
	session.FailureReason = ""
	session.Lines = lines
	session.Summary = summary
	session.Status = domain.CheckoutStatusProcessing
	session.UpdatedAt = s.now()
	s.transition(domain.CheckoutStatusProcessing)

	sessionID, amount := session.ID, summary.Total
	if !s.runAsync(sessionID, func(ctx context.Context) { s.processPayment(ctx, sessionID, amount) }) {
		session.Status = domain.CheckoutStatusFailed
		session.FailureReason = "checkout service is shutting down"
		s.transition(domain.CheckoutStatusFailed)
	}

	return cloneSession(session), nil
}

// Cancel закрывает форму без оплаты.
func (s *Service) Cancel(_ context.Context, id string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.editableLocked(id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	session.Status = domain.CheckoutStatusCanceled
	session.UpdatedAt = s.now()
	s.transition(domain.CheckoutStatusCanceled)
	s.logger.WithField("session_id", id).Info("checkout canceled")

	return cloneSession(session), nil
}

// Shutdown ожидает завершения фоновых платежей. По истечении ctx
// оставшиеся задачи отменяются.
func (s *Service) Shutdown(ctx context.Context) error {
	s.taskMu.Lock()
	s.taskClosed = true
	s.taskMu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		s.taskWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		s.taskCancel()
		return nil
	case <-ctx.Done():
		s.taskCancel()
		return ctx.Err()
	}
}

func (s *Service) processPayment(ctx context.Context, id string, amount decimal.Decimal) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordPaymentStarted()
	}

	status, err := s.payments.Charge(ctx, id, amount)

	if s.metrics != nil {
		s.metrics.RecordPaymentFinished(time.Since(start))
	}

	if err == nil && !status.Succeeded() {
		err = fmt.Errorf("%w: status %s", domain.ErrPaymentDeclined, status)
	}
	if err != nil {
		s.fail(id, err)
		return
	}

	event, ok := s.complete(id)
	if !ok {
		return
	}
	// Событие фиксируется даже при остановке сервиса.
	s.enqueueCompleted(context.WithoutCancel(ctx), event)

	if s.completionDelay > 0 {
		timer := time.NewTimer(s.completionDelay)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}

	s.store.Clear()
	s.close(id)
}

func (s *Service) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return
	}
	session.Status = domain.CheckoutStatusFailed
	session.FailureReason = err.Error()
	session.UpdatedAt = s.now()
	s.transition(domain.CheckoutStatusFailed)

	entry := s.logger.WithError(err).WithField("session_id", id)
	if errors.Is(err, context.Canceled) {
		entry.Info("payment interrupted")
		return
	}
	entry.Warn("payment failed")
}

func (s *Service) complete(id string) (domain.CheckoutCompletedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.CheckoutCompletedEvent{}, false
	}
	now := s.now()
	session.Status = domain.CheckoutStatusCompleted
	session.CompletedAt = now
	session.UpdatedAt = now
	s.transition(domain.CheckoutStatusCompleted)

	s.logger.WithFields(log.Fields{
		"session_id": id,
		"total":      session.Summary.Total.String(),
	}).Info("payment completed")

	return domain.CheckoutCompletedEvent{
		SessionID:   session.ID,
		Email:       session.Shipping.Email,
		FirstName:   session.Shipping.FirstName,
		Lines:       append([]domain.CartLineItem(nil), session.Lines...),
		Summary:     session.Summary,
		CompletedAt: now,
	}, true
}

func (s *Service) close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return
	}
	session.Status = domain.CheckoutStatusClosed
	session.UpdatedAt = s.now()
	s.transition(domain.CheckoutStatusClosed)
}

func (s *Service) enqueueCompleted(ctx context.Context, event domain.CheckoutCompletedEvent) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", event.SessionID).Warn("failed to encode checkout event")
		return
	}

	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateCheckout,
		AggregateID:   event.SessionID,
		EventType:     domain.EventTypeCheckoutCompleted,
		Payload:       payload,
		CreatedAt:     event.CompletedAt,
	}); err != nil {
		s.logger.WithError(err).WithField("session_id", event.SessionID).Warn("failed to enqueue checkout event")
	}
}

// editableLocked возвращает сессию, которую ещё можно менять пользователю.
func (s *Service) editableLocked(id string) (*domain.CheckoutSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrCheckoutNotFound
	}
	switch {
	case session.Status == domain.CheckoutStatusProcessing:
		return nil, domain.ErrCheckoutInProgress
	case session.Status == domain.CheckoutStatusCompleted, session.Status.Terminal():
		return nil, domain.ErrCheckoutClosed
	}
	return session, nil
}

func (s *Service) pruneLocked(now time.Time) {
	for id, session := range s.sessions {
		if session.Status.Terminal() && now.Sub(session.UpdatedAt) > sessionRetention {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) transition(status domain.CheckoutStatus) {
	if s.metrics != nil {
		s.metrics.RecordCheckoutTransition(string(status))
	}
}

func (s *Service) runAsync(sessionID string, fn func(context.Context)) bool {
	s.taskMu.Lock()
	if s.taskClosed {
		s.taskMu.Unlock()
		s.logger.WithField("session_id", sessionID).Warn("payment dispatch skipped during shutdown")
		return false
	}
	s.taskWG.Add(1)
	s.taskMu.Unlock()

	go func() {
		defer s.taskWG.Done()
		fn(s.taskCtx)
	}()
	return true
}

func cloneSession(src *domain.CheckoutSession) domain.CheckoutSession {
	dst := *src
	dst.Lines = append([]domain.CartLineItem(nil), src.Lines...)
	dst.Errors = maps.Clone(src.Errors)
	return dst
}
