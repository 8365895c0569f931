// Package health собирает состояние зависимостей витрины для /healthz и /readyz.
//
// Критичные зависимости (каталог в Postgres) переводят сервис в unhealthy,
// опциональные (слот снимков корзины, MySQL-реплика, автосохранение) только в degraded.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Check: результат проверки одной зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

// Handler выполняет зарегистрированные проверки параллельно с общим таймаутом.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
		timeout:  defaultCheckTimeout,
	}
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Evaluate выполняет все проверки и сводит их в общий статус.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		checks  = make(map[string]Check, len(checkers))
		overall = StatusHealthy
	)
	// Проверки не возвращают ошибок, группа нужна только для ожидания.
	var g errgroup.Group
	for name, checker := range checkers {
		g.Go(func() error {
			check := checker.Check(ctx)
			mu.Lock()
			checks[name] = check
			overall = worse(overall, check.Status)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

// ServeHTTP отдаёт полный отчёт; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(response.Status))
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler: readiness probe. Degraded-зависимости готовность не снимают.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Evaluate(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// LivenessHandler всегда отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// FuncChecker превращает функцию с ошибкой в Checker.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
	// onFailure: статус при ошибке fn.
	onFailure Status
}

// NewSimpleChecker: проверка критичной зависимости.
func NewSimpleChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onFailure: StatusUnhealthy}
}

// NewOptionalChecker: ошибка fn даёт degraded.
func NewOptionalChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onFailure: StatusDegraded}
}

// Pinger реализуют хранилища: Postgres, Redis и MySQL.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingChecker(name string, pinger Pinger, critical bool) *FuncChecker {
	if critical {
		return NewSimpleChecker(name, pinger.Ping)
	}
	return NewOptionalChecker(name, pinger.Ping)
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.fn(ctx)

	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = c.onFailure
		check.Message = err.Error()
	}
	return check
}

// AutosaveChecker следит, что снимок корзины сохранялся не реже maxAge.
type AutosaveChecker struct {
	lastSaved func() (time.Time, bool)
	maxAge    time.Duration
	now       func() time.Time
}

func NewAutosaveChecker(lastSaved func() (time.Time, bool), maxAge time.Duration) *AutosaveChecker {
	return &AutosaveChecker{lastSaved: lastSaved, maxAge: maxAge, now: time.Now}
}

// Check возвращает degraded, если последнее сохранение старше maxAge.
func (c *AutosaveChecker) Check(context.Context) Check {
	check := Check{Name: "autosave", Status: StatusHealthy}

	saved, ok := c.lastSaved()
	if !ok {
		check.Message = "no snapshot written yet"
		return check
	}
	if age := c.now().Sub(saved); age > c.maxAge {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("last snapshot is %s old", age.Round(time.Second))
	}
	return check
}
