package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultMaxLatency: верхняя граница искусственной задержки поиска.
const DefaultMaxLatency = 300 * time.Millisecond

// Result: результат одного поиска.
type Result struct {
	Seq      uint64           `json:"seq"`
	Filter   Filter           `json:"filter"`
	Products []domain.Product `json:"products"`
	// Superseded выставляется, если к моменту завершения был выпущен более новый запрос.
	Superseded bool          `json:"superseded"`
	Duration   time.Duration `json:"duration"`
}

// SearcherOption настраивает Searcher.
type SearcherOption func(*Searcher)

// WithMaxLatency задаёт верхнюю границу случайной задержки; 0 отключает задержку.
func WithMaxLatency(d time.Duration) SearcherOption {
	return func(s *Searcher) {
		if d >= 0 {
			s.maxLatency = d
		}
	}
}

// WithLatency подменяет генератор задержки (для тестов).
func WithLatency(fn func(Filter) time.Duration) SearcherOption {
	return func(s *Searcher) {
		if fn != nil {
			s.latency = fn
		}
	}
}

// WithSearchLogger задаёт логгер.
func WithSearchLogger(logger *log.Entry) SearcherOption {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSearchMetrics включает метрики поиска.
func WithSearchMetrics(m *metrics.StorefrontMetrics) SearcherOption {
	return func(s *Searcher) {
		s.metrics = m
	}
}

// Searcher моделирует асинхронную загрузку каталога с сетевой задержкой.
// Каждый запрос получает порядковый номер; отображаемым становится только
// результат последнего выпущенного запроса, устаревшие отбрасываются.
type Searcher struct {
	repo       domain.CatalogRepository
	maxLatency time.Duration
	latency    func(Filter) time.Duration
	logger     *log.Entry
	metrics    *metrics.StorefrontMetrics
	tracer     trace.Tracer

	issued   atomic.Uint64
	inFlight atomic.Int64
	wg       sync.WaitGroup

	mu        sync.RWMutex
	latest    Result
	hasLatest bool
}

// NewSearcher создаёт поисковик поверх репозитория каталога.
func NewSearcher(repo domain.CatalogRepository, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		repo:       repo,
		maxLatency: DefaultMaxLatency,
		logger:     log.New().WithField("component", "catalog-search"),
		tracer:     otel.Tracer("storefront/catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.latency == nil {
		s.latency = s.randomLatency
	}
	return s
}

func (s *Searcher) randomLatency(Filter) time.Duration {
	if s.maxLatency <= 0 {
		return 0
	}
	return rand.N(s.maxLatency)
}

// Search выполняет запрос синхронно с точки зрения вызывающего.
// Отменяется через ctx; устаревший результат возвращается с Superseded=true
// и не попадает в Latest.
func (s *Searcher) Search(ctx context.Context, f Filter) (Result, error) {
	return s.run(ctx, s.issued.Add(1), f)
}

// Submit запускает поиск в фоне и возвращает его номер. onDone вызывается
// для актуального результата или ошибки; устаревшие результаты молча отбрасываются.
func (s *Searcher) Submit(ctx context.Context, f Filter, onDone func(Result, error)) uint64 {
	seq := s.issued.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		res, err := s.run(ctx, seq, f)
		if onDone == nil {
			return
		}
		if err != nil || !res.Superseded {
			onDone(res, err)
		}
	}()

	return seq
}

// Wait дожидается завершения всех запросов, запущенных через Submit.
func (s *Searcher) Wait() {
	s.wg.Wait()
}

// Latest возвращает отображаемый список (результат последнего запроса).
func (s *Searcher) Latest() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latest, s.hasLatest
}

// Loading сообщает, выполняется ли сейчас хотя бы один запрос.
func (s *Searcher) Loading() bool {
	return s.inFlight.Load() > 0
}

// Issued возвращает номер последнего выпущенного запроса.
func (s *Searcher) Issued() uint64 {
	return s.issued.Load()
}

func (s *Searcher) run(ctx context.Context, seq uint64, f Filter) (Result, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	ctx, span := s.tracer.Start(ctx, "catalog.Search", trace.WithAttributes(
		attribute.Int64("search.seq", int64(seq)),
		attribute.String("search.category", f.Category),
		attribute.String("search.sort", string(f.Sort)),
	))
	defer span.End()

	start := time.Now()
	res, err := s.load(ctx, seq, f)
	res.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.record(metrics.ResultError, res.Duration)
		return res, err
	}

	s.mu.Lock()
	if seq == s.issued.Load() {
		s.latest = res
		s.hasLatest = true
	} else {
		res.Superseded = true
	}
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("search.results", len(res.Products)),
		attribute.Bool("search.superseded", res.Superseded),
	)

	if res.Superseded {
		s.logger.WithFields(log.Fields{
			"seq":    seq,
			"latest": s.issued.Load(),
		}).Debug("stale search result discarded")
		s.record(metrics.ResultSuperseded, res.Duration)
	} else {
		s.record(metrics.ResultLatest, res.Duration)
	}

	return res, nil
}

func (s *Searcher) load(ctx context.Context, seq uint64, f Filter) (Result, error) {
	res := Result{Seq: seq, Filter: f}

	if d := s.latency(f); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-timer.C:
		}
	}

	products, err := s.repo.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list catalog: %w", err)
	}

	res.Products = Query(products, f)
	return res, nil
}

func (s *Searcher) record(result string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordSearch(result, d)
	}
}
