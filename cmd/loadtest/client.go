package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/storefront"
)

const idempotencyHeader = "Idempotency-Key"

var (
	searchTerms = []string{"", "wireless", "watch", "lamp", "bag", "pro"}
	sortKeys    = []string{"name", "price-low", "price-high", "rating"}
)

type productsPage struct {
	Seq        uint64           `json:"seq"`
	Products   []domain.Product `json:"products"`
	Superseded bool             `json:"superseded"`
}

type apiError struct {
	Error string `json:"error"`
}

// storefrontClient: HTTP-клиент витрины поверх resty, записывающий каждый вызов в collector.
type storefrontClient struct {
	http *resty.Client
	col  *collector
}

func newStorefrontClient(baseURL string, timeout time.Duration, col *collector) *storefrontClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetError(&apiError{})
	return &storefrontClient{http: client, col: col}
}

// call выполняет запрос и классифицирует результат: OK для 2xx, иначе HTTP-статус или "TRANSPORT".
func (c *storefrontClient) call(method string, do func() (*resty.Response, error)) error {
	start := time.Now()
	resp, err := do()
	latency := time.Since(start)

	switch {
	case err != nil:
		c.col.record(method, latency, "TRANSPORT")
		return fmt.Errorf("%s: %w", method, err)
	case resp.IsError():
		c.col.record(method, latency, strconv.Itoa(resp.StatusCode()))
		msg := resp.Status()
		if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return fmt.Errorf("%s: %s", method, msg)
	default:
		c.col.record(method, latency, codeOK)
		return nil
	}
}

func (c *storefrontClient) listProducts(ctx context.Context, search, sort string) (productsPage, error) {
	var page productsPage
	err := c.call("ListProducts", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"search": search, "sort": sort}).
			SetResult(&page).
			Get("/api/products")
	})
	if err == nil && page.Superseded {
		c.col.recordSuperseded()
	}
	return page, err
}

func (c *storefrontClient) getProduct(ctx context.Context, id int64) error {
	return c.call("GetProduct", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", strconv.FormatInt(id, 10)).
			Get("/api/products/{id}")
	})
}

func (c *storefrontClient) addItem(ctx context.Context, productID int64, quantity int) (storefront.CartView, error) {
	var view storefront.CartView
	err := c.call("AddItem", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(map[string]any{"product_id": productID, "quantity": quantity}).
			SetResult(&view).
			Post("/api/cart/items")
	})
	return view, err
}

func (c *storefrontClient) updateQuantity(ctx context.Context, productID int64, quantity int) error {
	return c.call("UpdateQuantity", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", strconv.FormatInt(productID, 10)).
			SetBody(map[string]any{"quantity": quantity}).
			Put("/api/cart/items/{id}")
	})
}

func (c *storefrontClient) getCart(ctx context.Context) (storefront.CartView, error) {
	var view storefront.CartView
	err := c.call("GetCart", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetResult(&view).Get("/api/cart")
	})
	return view, err
}

func (c *storefrontClient) removeItem(ctx context.Context, productID int64) error {
	return c.call("RemoveItem", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", strconv.FormatInt(productID, 10)).
			Delete("/api/cart/items/{id}")
	})
}

func (c *storefrontClient) beginCheckout(ctx context.Context) (domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	err := c.call("BeginCheckout", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetResult(&session).Post("/api/checkout")
	})
	return session, err
}

func (c *storefrontClient) submitShipping(ctx context.Context, id string, details domain.ShippingDetails) error {
	return c.call("SubmitShipping", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", id).
			SetBody(details).
			Post("/api/checkout/{id}/shipping")
	})
}

func (c *storefrontClient) submitPayment(ctx context.Context, id, key string, details domain.PaymentDetails) error {
	return c.call("SubmitPayment", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", id).
			SetHeader(idempotencyHeader, key).
			SetBody(details).
			Post("/api/checkout/{id}/payment")
	})
}

func (c *storefrontClient) getCheckout(ctx context.Context, id string) (domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	err := c.call("GetCheckout", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", id).
			SetResult(&session).
			Get("/api/checkout/{id}")
	})
	return session, err
}

// waitCheckout опрашивает сессию, пока платёж не завершится.
func (c *storefrontClient) waitCheckout(ctx context.Context, id string, poll time.Duration) (domain.CheckoutSession, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		session, err := c.getCheckout(ctx, id)
		if err != nil {
			return session, err
		}
		switch session.Status {
		case domain.CheckoutStatusCompleted, domain.CheckoutStatusClosed:
			return session, nil
		case domain.CheckoutStatusFailed, domain.CheckoutStatusCanceled:
			return session, fmt.Errorf("checkout %s finished with status %s: %s", id, session.Status, session.FailureReason)
		}

		select {
		case <-ctx.Done():
			return session, errors.Join(ctx.Err(), fmt.Errorf("checkout %s still %s", id, session.Status))
		case <-ticker.C:
		}
	}
}

func loadShipping(index int) domain.ShippingDetails {
	return domain.ShippingDetails{
		Email:      fmt.Sprintf("load-%d@example.com", index),
		FirstName:  "Load",
		LastName:   "Tester",
		Address:    "1 Benchmark Way",
		City:       "Testville",
		PostalCode: "10001",
		Country:    "US",
	}
}

func loadPayment() domain.PaymentDetails {
	return domain.PaymentDetails{
		CardNumber: "4242424242424242",
		CardName:   "Load Tester",
		ExpiryDate: "1230",
		CVV:        "123",
	}
}
