package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// IdempotencyKeyHeader: заголовок для повторяемой отправки платежа.
const IdempotencyKeyHeader = "Idempotency-Key"

type paymentRequest struct {
	CheckoutID string                `json:"checkout_id"`
	Payment    domain.PaymentDetails `json:"payment"`
}

// withIdempotency выполняет run не более одного раза на Idempotency-Key
// и повторяет сохранённый ответ (статус и тело) для повторных запросов.
func (h *Handler) withIdempotency(c *gin.Context, req any, run func(context.Context) (int, any)) {
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if h.idemRepo == nil || key == "" {
		code, body := run(c.Request.Context())
		c.JSON(code, body)
		return
	}

	hash, err := requestHash(c.Request.Method+" "+c.FullPath(), req)
	if err != nil {
		h.logger.WithError(err).Warn("failed to build idempotency request hash")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotency request"})
		return
	}

	record, err := h.idemRepo.Reserve(c.Request.Context(), key, hash, h.clock().UTC().Add(domain.DefaultIdempotencyTTL))
	if err != nil {
		h.replay(c, err, record)
		return
	}

	code, body := run(c.Request.Context())
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to encode response"})
		return
	}

	outcome := domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Body: data, Code: code}
	if code >= http.StatusBadRequest {
		outcome.Status = domain.IdempotencyStatusFailed
	}
	if err := h.idemRepo.Finish(context.WithoutCancel(c.Request.Context()), key, outcome); err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	c.Data(code, "application/json; charset=utf-8", data)
}

func (h *Handler) replay(c *gin.Context, reserveErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(reserveErr, domain.ErrIdempotencyHashMismatch):
		c.JSON(http.StatusConflict, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(reserveErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if !record.Replayable() || record.ResponseCode == 0 {
				c.JSON(http.StatusInternalServerError, errorResponse{Error: "idempotency cache is empty"})
				return
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(record.ResponseCode, "application/json; charset=utf-8", record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			c.JSON(http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
		default:
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "unknown idempotency record status"})
		}
	default:
		h.logger.WithError(reserveErr).Warn("failed to reserve idempotency key")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotency request"})
	}
}

func requestHash(route string, req any) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(append([]byte(route+":"), data...))
	return hex.EncodeToString(sum[:]), nil
}
