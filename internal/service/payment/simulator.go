package payment

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultDelay: длительность симуляции платежа.
const DefaultDelay = 2 * time.Second

// Simulator: конфигурируемая симуляция PaymentService: ждёт delay и возвращает
// заранее настроенный результат. Реальных списаний нет.
type Simulator struct {
	mu sync.Mutex

	Delay  time.Duration
	Status domain.PaymentStatus
	Err    error

	calls   int
	charged decimal.Decimal
}

// Option настраивает Simulator.
type Option func(*Simulator)

// WithDelay задаёт длительность симуляции; 0: мгновенный ответ.
func WithDelay(d time.Duration) Option {
	return func(s *Simulator) {
		if d >= 0 {
			s.Delay = d
		}
	}
}

// WithResult задаёт возвращаемый статус и ошибку.
func WithResult(status domain.PaymentStatus, err error) Option {
	return func(s *Simulator) {
		s.Status = status
		s.Err = err
	}
}

// NewSimulator возвращает симулятор с успешным сценарием по умолчанию.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		Delay:   DefaultDelay,
		Status:  domain.PaymentStatusCaptured,
		charged: decimal.Zero,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Charge ждёт Delay (прерывается отменой ctx) и возвращает настроенный результат.
func (s *Simulator) Charge(ctx context.Context, sessionID string, amount decimal.Decimal) (domain.PaymentStatus, error) {
	s.mu.Lock()
	s.calls++
	delay, status, err := s.Delay, s.Status, s.Err
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return domain.PaymentStatusPending, ctx.Err()
		case <-timer.C:
		}
	}

	if err == nil && status.Succeeded() {
		s.mu.Lock()
		s.charged = s.charged.Add(amount)
		s.mu.Unlock()
	}

	return status, err
}

// SetResult меняет результат последующих вызовов.
func (s *Simulator) SetResult(status domain.PaymentStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = status
	s.Err = err
}

// Calls возвращает число вызовов Charge.
func (s *Simulator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// Charged возвращает сумму успешно «списанных» средств.
func (s *Simulator) Charged() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.charged
}

var _ domain.PaymentService = (*Simulator)(nil)
