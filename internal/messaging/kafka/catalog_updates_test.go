package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestCatalogUpdateHandler_UpsertsProduct(t *testing.T) {
	repo := memory.NewCatalogRepository([]domain.Product{
		{ID: 1, Name: "Mug", Price: decimal.RequireFromString("9.99"), Stock: 5},
	})
	handler := NewCatalogUpdateHandler(repo, nil)

	msg := &sarama.ConsumerMessage{
		Topic: TopicCatalogUpdates,
		Value: []byte(`{"event_type":"catalog.product.upserted","product":{"id":1,"name":"Mug","price":"7.49","stock":2}}`),
	}
	require.NoError(t, handler(context.Background(), msg))

	got, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("7.49")))
	assert.Equal(t, 2, got.Stock)
}

func TestCatalogUpdateHandler_Errors(t *testing.T) {
	repo := memory.NewCatalogRepository(nil)
	handler := NewCatalogUpdateHandler(repo, nil)

	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{name: "malformed", value: `{`},
		{name: "unknown type", value: `{"event_type":"catalog.product.deleted","product":{"id":1}}`, wantErr: ErrUnsupportedEvent},
		{name: "invalid product", value: `{"event_type":"catalog.product.upserted","product":{"id":0,"price":"1"}}`, wantErr: domain.ErrProductIDInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := handler(context.Background(), &sarama.ConsumerMessage{Value: []byte(tc.value)})
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "unexpected error: %v", err)
			}
		})
	}
}
