package grpcsvc

import (
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/storefront"
)

// ListProductsRequest: фильтр каталога.
type ListProductsRequest struct {
	Category string `json:"category,omitempty"`
	Search   string `json:"search,omitempty"`
	Sort     string `json:"sort,omitempty"`
}

// ListProductsResponse: отфильтрованный и отсортированный список.
type ListProductsResponse struct {
	Seq        uint64           `json:"seq"`
	Products   []domain.Product `json:"products"`
	Superseded bool             `json:"superseded,omitempty"`
}

type GetProductRequest struct {
	ProductID int64 `json:"product_id"`
}

type GetProductResponse struct {
	Product storefront.ProductView `json:"product"`
}

type GetCartRequest struct{}

type AddItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity,omitempty"`
}

type UpdateQuantityRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type RemoveItemRequest struct {
	ProductID int64 `json:"product_id"`
}

type ClearCartRequest struct{}

// CartResponse возвращается всеми операциями над корзиной.
type CartResponse struct {
	Cart storefront.CartView `json:"cart"`
}

type BeginCheckoutRequest struct{}

type SubmitShippingRequest struct {
	CheckoutID string                 `json:"checkout_id"`
	Shipping   domain.ShippingDetails `json:"shipping"`
}

type CheckoutBackRequest struct {
	CheckoutID string `json:"checkout_id"`
}

type SubmitPaymentRequest struct {
	CheckoutID string                `json:"checkout_id"`
	Payment    domain.PaymentDetails `json:"payment"`
}

type GetCheckoutRequest struct {
	CheckoutID string `json:"checkout_id"`
}

type CancelCheckoutRequest struct {
	CheckoutID string `json:"checkout_id"`
}

// CheckoutResponse возвращается всеми операциями оформления.
type CheckoutResponse struct {
	Session domain.CheckoutSession `json:"session"`
}
