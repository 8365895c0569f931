package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type errorResponse struct {
	Error  string             `json:"error"`
	Fields domain.FieldErrors `json:"fields,omitempty"`
}

type productsResponse struct {
	Seq        uint64           `json:"seq"`
	Category   string           `json:"category"`
	Sort       catalog.SortKey  `json:"sort"`
	Products   []domain.Product `json:"products"`
	Superseded bool             `json:"superseded,omitempty"`
}

type searchAccepted struct {
	Seq uint64 `json:"seq"`
}

type latestSearchResponse struct {
	Loading bool            `json:"loading"`
	Result  *catalog.Result `json:"result,omitempty"`
}

type addItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) listProducts(c *gin.Context) {
	f := filterFromQuery(c)

	res, err := h.facade.ListProducts(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, productsResponse{
		Seq:        res.Seq,
		Category:   f.Category,
		Sort:       f.Sort,
		Products:   res.Products,
		Superseded: res.Superseded,
	})
}

// submitSearch ставит поиск в фон: клиент опрашивает /api/search/latest.
func (h *Handler) submitSearch(c *gin.Context) {
	seq := h.facade.SubmitSearch(c.Request.Context(), filterFromQuery(c))
	c.JSON(http.StatusAccepted, searchAccepted{Seq: seq})
}

func (h *Handler) latestSearch(c *gin.Context) {
	resp := latestSearchResponse{Loading: h.facade.SearchLoading()}
	if res, ok := h.facade.LatestProducts(); ok {
		resp.Result = &res
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}

	view, err := h.facade.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.facade.Categories()})
}

func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.facade.Cart(c.Request.Context()))
}

func (h *Handler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	view, err := h.facade.AddToCart(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) updateQuantity(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}

	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	view, err := h.facade.UpdateQuantity(c.Request.Context(), id, *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeItem(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.facade.RemoveFromCart(c.Request.Context(), id))
}

func (h *Handler) clearCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.facade.ClearCart(c.Request.Context()))
}

func (h *Handler) beginCheckout(c *gin.Context) {
	session, err := h.facade.BeginCheckout(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) getCheckout(c *gin.Context) {
	session, err := h.facade.GetCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) submitShipping(c *gin.Context) {
	var details domain.ShippingDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	session, err := h.facade.SubmitShipping(c.Request.Context(), c.Param("id"), details)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) checkoutBack(c *gin.Context) {
	session, err := h.facade.CheckoutBack(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) submitPayment(c *gin.Context) {
	var details domain.PaymentDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	id := c.Param("id")
	h.withIdempotency(c, paymentRequest{CheckoutID: id, Payment: details}, func(ctx context.Context) (int, any) {
		session, err := h.facade.SubmitPayment(ctx, id, details)
		if err != nil {
			return h.errorPayload(err)
		}
		return http.StatusAccepted, session
	})
}

func (h *Handler) cancelCheckout(c *gin.Context) {
	session, err := h.facade.CancelCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func productIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: domain.ErrProductIDInvalid.Error()})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code, body := h.errorPayload(err)
	c.JSON(code, body)
}

// errorPayload переводит доменную ошибку в HTTP-статус и тело ответа.
func (h *Handler) errorPayload(err error) (int, any) {
	if verr, ok := domain.AsValidationError(err); ok {
		return http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: verr.Fields}
	}

	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCheckoutNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrProductIDInvalid):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case domain.IsStockError(err),
		errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrCheckoutInProgress),
		errors.Is(err, domain.ErrCheckoutStep),
		errors.Is(err, domain.ErrCheckoutClosed):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	}

	h.logger.WithError(err).Error("storefront request failed")
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

func filterFromQuery(c *gin.Context) catalog.Filter {
	return catalog.Filter{
		Category: c.DefaultQuery("category", catalog.CategoryAll),
		Search:   c.Query("search"),
		Sort:     catalog.ParseSortKey(c.Query("sort")),
	}
}
