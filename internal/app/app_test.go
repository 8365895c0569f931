package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, "cart", cfg.SnapshotKey)
	assert.Equal(t, 5*time.Second, cfg.AutosaveInterval)
	assert.False(t, cfg.RestoreCartOnStart)
	assert.True(t, cfg.PostgresAutoMigrate)
	assert.Positive(t, cfg.OutboxBatchSize)
	assert.Positive(t, cfg.OutboxMaxAttempts)
	assert.Positive(t, cfg.IdempotencyCleanupBatchSize)
	assert.Empty(t, cfg.Brokers())
}

func TestConfig_Copy(t *testing.T) {
	original := DefaultConfig()
	changed := original
	changed.GRPCAddr = ":8081"

	assert.Equal(t, ":50051", original.GRPCAddr)
	assert.NotEqual(t, original, changed)
	assert.Equal(t, DefaultConfig(), original)
}

func TestConfig_Brokers(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "broker1:9092", want: []string{"broker1:9092"}},
		{raw: "broker1:9092, broker2:9092 ,,", want: []string{"broker1:9092", "broker2:9092"}},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, Config{KafkaBrokers: tc.raw}.Brokers())
		})
	}
}

func TestConfig_EffectiveSnapshotDriver(t *testing.T) {
	tests := []struct {
		name     string
		storage  string
		snapshot string
		want     string
	}{
		{name: "memory default", storage: StorageDriverMemory, want: SnapshotDriverMemory},
		{name: "postgres follows storage", storage: StorageDriverPostgres, want: SnapshotDriverPostgres},
		{name: "explicit redis", storage: StorageDriverPostgres, snapshot: "Redis", want: SnapshotDriverRedis},
		{name: "explicit mysql", storage: StorageDriverMemory, snapshot: SnapshotDriverMySQL, want: SnapshotDriverMySQL},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{StorageDriver: tc.storage, SnapshotDriver: tc.snapshot}
			assert.Equal(t, tc.want, cfg.EffectiveSnapshotDriver())
		})
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.SearchMaxLatency = 0
	cfg.PaymentDelay = 0
	cfg.CheckoutCompletionDelay = 0
	cfg.AutosaveInterval = 20 * time.Millisecond
	cfg.OutboxPollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestApplication_ServesHTTPAndGRPC(t *testing.T) {
	logger := log.WithField("test", "app-serve")

	a, err := newApplication(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	defer a.close()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, grpcLis, httpLis) }()

	// HTTP: добавляем товар в корзину.
	resp, err := http.Post("http://"+httpLis.Addr().String()+"/api/cart/items", "application/json",
		strings.NewReader(`{"product_id":1,"quantity":2}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// gRPC видит ту же корзину.
	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := grpcsvc.NewStorefrontServiceClient(conn)
	cartResp, err := client.GetCart(context.Background(), &grpcsvc.GetCartRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, cartResp.Cart.ItemCount)

	health, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)

	// Автосохранение успевает записать снимок.
	require.Eventually(t, func() bool {
		_, ok := a.autosave.LastSavedAt()
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "unexpected serve error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	payload, err := a.deps.snapshots.Load(context.Background(), "cart")
	require.NoError(t, err)
	var lines []map[string]any
	require.NoError(t, json.Unmarshal(payload, &lines))
	assert.Len(t, lines, 1)
}

func TestApplication_CheckoutEventsReachOutboxPublisher(t *testing.T) {
	a, err := newApplication(context.Background(), testConfig(), log.WithField("test", "app-outbox"))
	require.NoError(t, err)
	defer a.close()

	ctx := context.Background()
	_, err = a.facade.AddToCart(ctx, 1, 1)
	require.NoError(t, err)

	session, err := a.facade.BeginCheckout(ctx)
	require.NoError(t, err)
	session, err = a.facade.SubmitShipping(ctx, session.ID, domain.ShippingDetails{
		Email: "jane@example.com", FirstName: "Jane", LastName: "Doe",
		Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
	})
	require.NoError(t, err)
	_, err = a.facade.SubmitPayment(ctx, session.ID, domain.PaymentDetails{
		CardNumber: "4242424242424242", CardName: "Jane Doe", ExpiryDate: "1229", CVV: "123",
	})
	require.NoError(t, err)

	// drain дожидается фоновой обработки платежа и публикует outbox.
	a.drain()

	stats, err := a.deps.outboxRepo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.Zero(t, stats.FailedCount)
	assert.Zero(t, a.facade.Cart(ctx).ItemCount)
}

func TestApplication_RestoreCartOnStart(t *testing.T) {
	cfg := testConfig()

	first, err := newApplication(context.Background(), cfg, log.WithField("test", "restore-1"))
	require.NoError(t, err)
	defer first.close()

	_, err = first.facade.AddToCart(context.Background(), 2, 1)
	require.NoError(t, err)
	require.NoError(t, first.autosave.SaveOnce(context.Background()))

	payload, err := first.deps.snapshots.Load(context.Background(), cfg.SnapshotKey)
	require.NoError(t, err)

	cfg.RestoreCartOnStart = true
	second, err := newApplication(context.Background(), cfg, log.WithField("test", "restore-2"))
	require.NoError(t, err)
	defer second.close()

	// Каждый экземпляр в памяти получает свой слот, поэтому переносим снимок вручную.
	require.NoError(t, second.deps.snapshots.Save(context.Background(), cfg.SnapshotKey, payload))
	restored, err := second.autosave.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	view := second.facade.Cart(context.Background())
	assert.Equal(t, 1, view.ItemCount)
}
