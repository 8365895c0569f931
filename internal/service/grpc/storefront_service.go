package grpcsvc

import (
	"context"
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/storefront"
)

// StorefrontService реализует gRPC API поверх фасада витрины.
type StorefrontService struct {
	facade   *storefront.Service
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

// NewStorefrontService конструирует сервис с зависимостями. idemRepo может быть nil.
func NewStorefrontService(
	facade *storefront.Service,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *StorefrontService {
	if logger == nil {
		logger = log.New().WithField("component", "storefront-grpc")
	}
	return &StorefrontService{
		facade:   facade,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

var _ StorefrontServiceServer = (*StorefrontService)(nil)

// ListProducts возвращает каталог с фильтрацией и сортировкой.
func (s *StorefrontService) ListProducts(ctx context.Context, req *ListProductsRequest) (*ListProductsResponse, error) {
	if req == nil {
		req = &ListProductsRequest{}
	}

	res, err := s.facade.ListProducts(ctx, catalog.Filter{
		Category: req.Category,
		Search:   req.Search,
		Sort:     catalog.ParseSortKey(req.Sort),
	})
	if err != nil {
		return nil, s.toStatus(err, "ListProducts")
	}

	return &ListProductsResponse{Seq: res.Seq, Products: res.Products, Superseded: res.Superseded}, nil
}

// GetProduct возвращает карточку товара.
func (s *StorefrontService) GetProduct(ctx context.Context, req *GetProductRequest) (*GetProductResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	view, err := s.facade.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, s.toStatus(err, "GetProduct")
	}
	return &GetProductResponse{Product: view}, nil
}

// GetCart возвращает содержимое корзины.
func (s *StorefrontService) GetCart(ctx context.Context, _ *GetCartRequest) (*CartResponse, error) {
	return &CartResponse{Cart: s.facade.Cart(ctx)}, nil
}

// AddItem добавляет товар в корзину с проверкой остатка.
func (s *StorefrontService) AddItem(ctx context.Context, req *AddItemRequest) (*CartResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	view, err := s.facade.AddToCart(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return nil, s.toStatus(err, "AddItem")
	}
	return &CartResponse{Cart: view}, nil
}

// UpdateQuantity задаёт количество позиции; 0 и меньше удаляют её.
func (s *StorefrontService) UpdateQuantity(ctx context.Context, req *UpdateQuantityRequest) (*CartResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	view, err := s.facade.UpdateQuantity(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return nil, s.toStatus(err, "UpdateQuantity")
	}
	return &CartResponse{Cart: view}, nil
}

// RemoveItem удаляет позицию из корзины.
func (s *StorefrontService) RemoveItem(ctx context.Context, req *RemoveItemRequest) (*CartResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}
	return &CartResponse{Cart: s.facade.RemoveFromCart(ctx, req.ProductID)}, nil
}

// ClearCart очищает корзину.
func (s *StorefrontService) ClearCart(ctx context.Context, _ *ClearCartRequest) (*CartResponse, error) {
	return &CartResponse{Cart: s.facade.ClearCart(ctx)}, nil
}

// BeginCheckout открывает сессию оформления.
func (s *StorefrontService) BeginCheckout(ctx context.Context, _ *BeginCheckoutRequest) (*CheckoutResponse, error) {
	session, err := s.facade.BeginCheckout(ctx)
	if err != nil {
		return nil, s.toStatus(err, "BeginCheckout")
	}
	return &CheckoutResponse{Session: session}, nil
}

// SubmitShipping отправляет шаг доставки.
func (s *StorefrontService) SubmitShipping(ctx context.Context, req *SubmitShippingRequest) (*CheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "checkout_id is required")
	}

	session, err := s.facade.SubmitShipping(ctx, req.CheckoutID, req.Shipping)
	if err != nil {
		return nil, s.toStatus(err, "SubmitShipping")
	}
	return &CheckoutResponse{Session: session}, nil
}

// CheckoutBack возвращает форму на шаг доставки.
func (s *StorefrontService) CheckoutBack(ctx context.Context, req *CheckoutBackRequest) (*CheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "checkout_id is required")
	}

	session, err := s.facade.CheckoutBack(ctx, req.CheckoutID)
	if err != nil {
		return nil, s.toStatus(err, "CheckoutBack")
	}
	return &CheckoutResponse{Session: session}, nil
}

// SubmitPayment запускает оплату. Повтор с тем же idempotency-key
// возвращает сохранённый ответ и не запускает оплату второй раз.
func (s *StorefrontService) SubmitPayment(ctx context.Context, req *SubmitPaymentRequest) (*CheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "checkout_id is required")
	}

	return withIdempotency(
		s,
		ctx,
		methodSubmitPayment,
		req,
		func() *CheckoutResponse { return &CheckoutResponse{} },
		func(ctx context.Context) (*CheckoutResponse, error) {
			session, err := s.facade.SubmitPayment(ctx, req.CheckoutID, req.Payment)
			if err != nil {
				return nil, s.toStatus(err, "SubmitPayment")
			}
			return &CheckoutResponse{Session: session}, nil
		},
	)
}

// GetCheckout возвращает сессию оформления.
func (s *StorefrontService) GetCheckout(ctx context.Context, req *GetCheckoutRequest) (*CheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "checkout_id is required")
	}

	session, err := s.facade.GetCheckout(ctx, req.CheckoutID)
	if err != nil {
		return nil, s.toStatus(err, "GetCheckout")
	}
	return &CheckoutResponse{Session: session}, nil
}

// CancelCheckout закрывает форму без оплаты.
func (s *StorefrontService) CancelCheckout(ctx context.Context, req *CancelCheckoutRequest) (*CheckoutResponse, error) {
	if req == nil || req.CheckoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "checkout_id is required")
	}

	session, err := s.facade.CancelCheckout(ctx, req.CheckoutID)
	if err != nil {
		return nil, s.toStatus(err, "CancelCheckout")
	}
	return &CheckoutResponse{Session: session}, nil
}

// toStatus переводит доменные ошибки в gRPC-статусы.
func (s *StorefrontService) toStatus(err error, operation string) error {
	if verr, ok := domain.AsValidationError(err); ok {
		return validationStatus(verr)
	}

	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCheckoutNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrProductIDInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.IsStockError(err),
		errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrCheckoutInProgress),
		errors.Is(err, domain.ErrCheckoutStep),
		errors.Is(err, domain.ErrCheckoutClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	s.logger.WithError(err).WithField("operation", operation).Error("storefront operation failed")
	return status.Error(codes.Internal, "internal error")
}

func validationStatus(verr *domain.ValidationError) error {
	fields := make([]string, 0, len(verr.Fields))
	for field := range verr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	badRequest := &errdetails.BadRequest{}
	for _, field := range fields {
		badRequest.FieldViolations = append(badRequest.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       field,
			Description: verr.Fields[field],
		})
	}

	st, err := status.New(codes.InvalidArgument, verr.Error()).WithDetails(badRequest)
	if err != nil {
		return status.Error(codes.InvalidArgument, verr.Error())
	}
	return st.Err()
}

// FieldViolations извлекает ошибки полей из статуса InvalidArgument.
func FieldViolations(err error) map[string]string {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}

	out := map[string]string{}
	for _, detail := range st.Details() {
		if br, ok := detail.(*errdetails.BadRequest); ok {
			for _, v := range br.GetFieldViolations() {
				out[v.GetField()] = v.GetDescription()
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
