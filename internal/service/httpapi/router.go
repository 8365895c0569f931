package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/storefront"
)

// DefaultServiceName используется как имя сервиса в спанах otelgin.
const DefaultServiceName = "storefront-http"

// Handler обслуживает REST API витрины.
type Handler struct {
	facade   *storefront.Service
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	clock    func() time.Time
}

// NewHandler создаёт обработчики. idemRepo может быть nil.
func NewHandler(facade *storefront.Service, idemRepo domain.IdempotencyRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "storefront-http")
	}
	return &Handler{
		facade:   facade,
		idemRepo: idemRepo,
		logger:   logger,
		clock:    time.Now,
	}
}

// NewRouter собирает gin-роутер с трассировкой и логированием запросов.
func NewRouter(h *Handler, serviceName string) *gin.Engine {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(requestLogger(h.logger))

	api := r.Group("/api")

	api.GET("/products", h.listProducts)
	api.GET("/products/:id", h.getProduct)
	api.GET("/categories", h.listCategories)
	api.POST("/search", h.submitSearch)
	api.GET("/search/latest", h.latestSearch)

	api.GET("/cart", h.getCart)
	api.POST("/cart/items", h.addItem)
	api.PUT("/cart/items/:id", h.updateQuantity)
	api.DELETE("/cart/items/:id", h.removeItem)
	api.DELETE("/cart", h.clearCart)

	api.POST("/checkout", h.beginCheckout)
	api.GET("/checkout/:id", h.getCheckout)
	api.POST("/checkout/:id/shipping", h.submitShipping)
	api.POST("/checkout/:id/back", h.checkoutBack)
	api.POST("/checkout/:id/payment", h.submitPayment)
	api.DELETE("/checkout/:id", h.cancelCheckout)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "route not found"})
	})

	return r
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request served")
	}
}
