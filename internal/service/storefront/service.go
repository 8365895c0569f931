package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/autosave"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// ProductView: карточка товара с меткой наличия и количеством в корзине.
type ProductView struct {
	domain.Product
	StockStatus domain.StockStatus `json:"stock_status"`
	InCart      int                `json:"in_cart"`
}

// CartView: содержимое корзины вместе с расчётом итогов.
type CartView struct {
	Lines       []domain.CartLineItem `json:"lines"`
	ItemCount   int                   `json:"item_count"`
	Summary     domain.PriceSummary   `json:"summary"`
	LastSavedAt *time.Time            `json:"last_saved_at,omitempty"`
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер фасада.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer подменяет трейсер (по умолчанию глобальный провайдер otel).
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// Service: фасад витрины для транспортов. Здесь живёт логика "представления":
// проверка остатков перед добавлением в корзину и сборка представлений.
type Service struct {
	catalog  domain.CatalogRepository
	searcher *catalog.Searcher
	store    *cart.Store
	checkout *checkout.Service
	autosave *autosave.Worker
	logger   *log.Entry
	tracer   trace.Tracer

	// stockMu сериализует проверку остатка и изменение корзины.
	stockMu sync.Mutex
}

// NewService собирает фасад. autosave может быть nil.
func NewService(
	products domain.CatalogRepository,
	searcher *catalog.Searcher,
	store *cart.Store,
	checkoutSvc *checkout.Service,
	autosaveWorker *autosave.Worker,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:  products,
		searcher: searcher,
		store:    store,
		checkout: checkoutSvc,
		autosave: autosaveWorker,
		logger:   log.New().WithField("component", "storefront"),
		tracer:   otel.Tracer("storefront"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.searcher == nil {
		s.searcher = catalog.NewSearcher(products, catalog.WithMaxLatency(0))
	}
	return s
}

// Categories возвращает список категорий фильтра.
func (s *Service) Categories() []string {
	return append([]string(nil), catalog.Categories...)
}

// ListProducts выполняет поиск по каталогу с искусственной задержкой.
func (s *Service) ListProducts(ctx context.Context, f catalog.Filter) (res catalog.Result, err error) {
	ctx, span := s.startSpan(ctx, "storefront.ListProducts",
		attribute.String("filter.category", f.Category),
		attribute.String("filter.sort", string(f.Sort)),
	)
	defer func() { endSpan(span, err) }()

	return s.searcher.Search(ctx, f)
}

// SubmitSearch запускает поиск в фоне и сразу возвращает его номер.
// Результат, если он не устарел, появится в LatestProducts. Запрос не
// привязан к отмене ctx: он переживает HTTP-запрос, который его создал.
func (s *Service) SubmitSearch(ctx context.Context, f catalog.Filter) uint64 {
	ctx, span := s.startSpan(context.WithoutCancel(ctx), "storefront.SubmitSearch",
		attribute.String("filter.category", f.Category),
		attribute.String("filter.sort", string(f.Sort)),
	)
	defer span.End()

	seq := s.searcher.Submit(ctx, f, func(_ catalog.Result, err error) {
		if err != nil {
			s.logger.WithError(err).WithField("category", f.Category).Warn("background catalog search failed")
		}
	})
	span.SetAttributes(attribute.Int64("search.seq", int64(seq)))
	return seq
}

// WaitSearches дожидается фоновых поисков.
func (s *Service) WaitSearches() {
	s.searcher.Wait()
}

// LatestProducts возвращает последний актуальный результат поиска.
func (s *Service) LatestProducts() (catalog.Result, bool) {
	return s.searcher.Latest()
}

// SearchLoading сообщает, идёт ли сейчас поиск.
func (s *Service) SearchLoading() bool {
	return s.searcher.Loading()
}

// GetProduct возвращает карточку товара.
func (s *Service) GetProduct(ctx context.Context, id int64) (view ProductView, err error) {
	ctx, span := s.startSpan(ctx, "storefront.GetProduct", attribute.Int64("product.id", id))
	defer func() { endSpan(span, err) }()

	product, err := s.catalog.Get(ctx, id)
	if err != nil {
		return ProductView{}, err
	}

	view = ProductView{
		Product:     product,
		StockStatus: domain.StockStatusOf(product.Stock),
	}
	if line, ok := s.store.Item(id); ok {
		view.InCart = line.Quantity
	}
	return view, nil
}

// AddToCart добавляет quantity единиц товара (0 трактуется как 1).
// Остаток проверяется до изменения корзины.
func (s *Service) AddToCart(ctx context.Context, id int64, quantity int) (view CartView, err error) {
	ctx, span := s.startSpan(ctx, "storefront.AddToCart",
		attribute.Int64("product.id", id),
		attribute.Int("cart.quantity", quantity),
	)
	defer func() { endSpan(span, err) }()

	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return CartView{}, domain.ErrInvalidQuantity
	}

	product, err := s.catalog.Get(ctx, id)
	if err != nil {
		return CartView{}, err
	}
	if !product.InStock() {
		return CartView{}, domain.ErrOutOfStock
	}

	s.stockMu.Lock()
	defer s.stockMu.Unlock()

	inCart := 0
	if line, ok := s.store.Item(id); ok {
		inCart = line.Quantity
	}
	if inCart+quantity > product.Stock {
		return CartView{}, fmt.Errorf("%w: %d in cart, %d requested, %d available",
			domain.ErrStockExceeded, inCart, quantity, product.Stock)
	}

	for range quantity {
		s.store.AddItem(product)
	}

	s.logger.WithFields(log.Fields{
		"product_id": id,
		"quantity":   quantity,
	}).Debug("item added to cart")

	return s.cartView(), nil
}

// UpdateQuantity задаёт количество; значение <= 0 удаляет позицию.
func (s *Service) UpdateQuantity(ctx context.Context, id int64, quantity int) (view CartView, err error) {
	ctx, span := s.startSpan(ctx, "storefront.UpdateQuantity",
		attribute.Int64("product.id", id),
		attribute.Int("cart.quantity", quantity),
	)
	defer func() { endSpan(span, err) }()

	s.stockMu.Lock()
	defer s.stockMu.Unlock()

	if quantity > 0 {
		product, err := s.catalog.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			// Товар мог исчезнуть из каталога: ограничиваем только снимком в корзине.
			if line, ok := s.store.Item(id); ok && quantity > line.Stock {
				return CartView{}, domain.ErrStockExceeded
			}
		case err != nil:
			return CartView{}, err
		case quantity > product.Stock:
			return CartView{}, fmt.Errorf("%w: %d requested, %d available",
				domain.ErrStockExceeded, quantity, product.Stock)
		}
	}

	s.store.UpdateQuantity(id, quantity)
	return s.cartView(), nil
}

// RemoveFromCart удаляет позицию; отсутствие позиции не ошибка.
func (s *Service) RemoveFromCart(ctx context.Context, id int64) CartView {
	_, span := s.startSpan(ctx, "storefront.RemoveFromCart", attribute.Int64("product.id", id))
	defer span.End()

	s.store.RemoveItem(id)
	return s.cartView()
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(ctx context.Context) CartView {
	_, span := s.startSpan(ctx, "storefront.ClearCart")
	defer span.End()

	s.store.Clear()
	return s.cartView()
}

// Cart возвращает текущее содержимое корзины.
func (s *Service) Cart(ctx context.Context) CartView {
	_, span := s.startSpan(ctx, "storefront.Cart")
	defer span.End()

	view := s.cartView()
	span.SetAttributes(
		attribute.Int("cart.lines", len(view.Lines)),
		attribute.String("cart.total", view.Summary.Total.String()),
	)
	return view
}

// BeginCheckout открывает сессию оформления.
func (s *Service) BeginCheckout(ctx context.Context) (session domain.CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "storefront.BeginCheckout")
	defer func() { endSpan(span, err) }()

	return s.checkout.Begin(ctx)
}

// GetCheckout возвращает сессию оформления.
func (s *Service) GetCheckout(ctx context.Context, id string) (session domain.CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "storefront.GetCheckout", attribute.String("checkout.id", id))
	defer func() { endSpan(span, err) }()

	return s.checkout.Get(ctx, id)
}

// SubmitShipping отправляет шаг доставки.
func (s *Service) SubmitShipping(ctx context.Context, id string, details domain.ShippingDetails) (session domain.CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "storefront.SubmitShipping", attribute.String("checkout.id", id))
	defer func() { endSpan(span, err) }()

	return s.checkout.SubmitShipping(ctx, id, details)
}

// CheckoutBack возвращает форму на шаг доставки.
func (s *Service) CheckoutBack(ctx context.Context, id string) (session domain.CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "storefront.CheckoutBack", attribute.String("checkout.id", id))
	defer func() { endSpan(span, err) }()

	return s.checkout.Back(ctx, id)
}

// SubmitPayment запускает симуляцию оплаты.
func (s *Service) SubmitPayment(ctx context.Context, id string, details domain.PaymentDetails) (session domain.CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "storefront.SubmitPayment", attribute.String("checkout.id", id))
	defer func() { endSpan(span, err) }()

	return s.checkout.SubmitPayment(ctx, id, details)
}

// CancelCheckout закрывает форму без оплаты.
func (s *Service) CancelCheckout(ctx context.Context, id string) (session domain.CheckoutSession, err error) {
	ctx, span := s.startSpan(ctx, "storefront.CancelCheckout", attribute.String("checkout.id", id))
	defer func() { endSpan(span, err) }()

	return s.checkout.Cancel(ctx, id)
}

func (s *Service) cartView() CartView {
	lines, summary := s.store.Snapshot()
	view := CartView{
		Lines:     lines,
		ItemCount: domain.Units(lines),
		Summary:   summary,
	}
	if s.autosave != nil {
		if at, ok := s.autosave.LastSavedAt(); ok {
			view.LastSavedAt = &at
		}
	}
	return view
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
