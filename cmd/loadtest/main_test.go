package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestParseMode(t *testing.T) {
	for _, value := range []string{"browse", " CART ", "checkout"} {
		_, err := parseMode(value)
		assert.NoError(t, err, value)
	}
	_, err := parseMode("create-pay")
	assert.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.baseURL)
	assert.Equal(t, modeBrowse, cfg.mode)
	assert.False(t, cfg.totalSet)

	cfg, err = parseConfig([]string{"-url=http://shop:8080/", "-mode=checkout", "-total=5", "-duration=1s", "-product=3"})
	require.NoError(t, err)
	assert.Equal(t, "http://shop:8080", cfg.baseURL)
	assert.Equal(t, modeCheckout, cfg.mode)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, int64(3), cfg.productID)

	invalid := [][]string{
		{"-mode=unknown"},
		{"-duration=-1s"},
		{"-total=0"},
		{"-duration=1s", "-total=0"},
		{"-concurrency=0"},
		{"-timeout=0s"},
		{"-poll=0s"},
		{"-product=0"},
		{"-url= "},
		{"-nope"},
	}
	for _, args := range invalid {
		_, err := parseConfig(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestDispatchJobs(t *testing.T) {
	jobs := make(chan int, 10)
	dispatchJobs(jobs, config{total: 3})

	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	jobs = make(chan int)
	go dispatchJobs(jobs, config{duration: 30 * time.Millisecond, total: 2, totalSet: true})
	got = got[:0]
	for id := range jobs {
		got = append(got, id)
	}
	assert.Equal(t, []int{0, 1}, got)
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioMethod, 10*time.Millisecond, codeOK)
	col.record(scenarioMethod, 30*time.Millisecond, "FAILED")
	col.record("AddItem", 5*time.Millisecond, codeOK)
	col.record("AddItem", 7*time.Millisecond, "409")
	col.recordSuperseded()

	result := col.buildReport(time.Now(), time.Second)

	assert.Equal(t, int64(2), result.TotalScenarios)
	assert.Equal(t, int64(1), result.SuccessScenarios)
	assert.Equal(t, int64(1), result.FailedScenarios)
	assert.InDelta(t, 0.5, result.ErrorRate, 1e-9)
	assert.InDelta(t, 2.0, result.RPS, 1e-9)
	assert.Equal(t, int64(1), result.SupersededSearch)
	assert.Equal(t, map[string]int64{"OK": 1, "409": 1}, result.Methods["AddItem"].Codes)
	assert.InDelta(t, 20.0, result.ScenarioLatencyMs.P50, 1e-9)
}

func TestLatencyHelpers(t *testing.T) {
	assert.Equal(t, latencySummary{}, buildLatencySummary(nil))
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 4.0, percentile([]float64{4}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)

	summary := buildLatencySummary([]float64{3, 1, 2})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 3.0, summary.Max)
	assert.Equal(t, 2.0, summary.Avg)

	assert.Zero(t, ratio(1, 0))
	assert.Equal(t, "count:10", runTarget(config{total: 10}))
	assert.Equal(t, "duration:1m0s", runTarget(config{duration: time.Minute}))
	assert.Equal(t, "duration:1m0s,max-total:5", runTarget(config{duration: time.Minute, total: 5, totalSet: true}))
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, writeJSONReport("report.json", report{TotalScenarios: 3}))
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)

	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(3), decoded.TotalScenarios)

	assert.Error(t, writeJSONReport(".", report{}))
	assert.Error(t, writeJSONReport("../escape.json", report{}))
}

func TestPrintReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioMethod, time.Millisecond, codeOK)
	col.record("ListProducts", time.Millisecond, codeOK)

	var buf bytes.Buffer
	printReport(&buf, col.buildReport(time.Now(), time.Second), config{mode: modeBrowse, total: 1})

	assert.Contains(t, buf.String(), "mode=browse run=count:1 total=1 success=1")
	assert.Contains(t, buf.String(), "ListProducts: calls=1")
	assert.NotContains(t, buf.String(), "scenario: calls")
}

// fakeStorefront: минимальная имитация HTTP API витрины.
type fakeStorefront struct {
	mu          sync.Mutex
	paymentKeys map[string]int
	polls       atomic.Int32
	failCart    bool
}

func newFakeStorefront(t *testing.T) (*fakeStorefront, *httptest.Server) {
	t.Helper()

	f := &fakeStorefront{paymentKeys: make(map[string]int)}
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"seq":        1,
			"superseded": r.URL.Query().Get("search") == "wireless",
			"products":   []map[string]any{{"id": 7, "name": "Lamp", "price": "10.00"}},
		})
	})
	mux.HandleFunc("GET /api/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("POST /api/cart/items", func(w http.ResponseWriter, _ *http.Request) {
		if f.failCart {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "requested quantity exceeds stock"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lines": []any{}, "item_count": 1})
	})
	mux.HandleFunc("PUT /api/cart/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"item_count": 2})
	})
	mux.HandleFunc("DELETE /api/cart/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"item_count": 0})
	})
	mux.HandleFunc("GET /api/cart", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"item_count": 2})
	})
	mux.HandleFunc("POST /api/checkout", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "co-1", "status": domain.CheckoutStatusOpen})
	})
	mux.HandleFunc("POST /api/checkout/{id}/shipping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "co-1", "status": domain.CheckoutStatusOpen})
	})
	mux.HandleFunc("POST /api/checkout/{id}/payment", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paymentKeys[r.Header.Get(idempotencyHeader)]++
		f.mu.Unlock()
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "co-1", "status": domain.CheckoutStatusProcessing})
	})
	mux.HandleFunc("GET /api/checkout/{id}", func(w http.ResponseWriter, _ *http.Request) {
		status := domain.CheckoutStatusProcessing
		if f.polls.Add(1) >= 2 {
			status = domain.CheckoutStatusCompleted
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "co-1", "status": status})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestRunLoad_Modes(t *testing.T) {
	tests := []struct {
		mode        loadMode
		wantMethods []string
	}{
		{mode: modeBrowse, wantMethods: []string{"ListProducts", "GetProduct"}},
		{mode: modeCart, wantMethods: []string{"AddItem", "UpdateQuantity", "GetCart", "RemoveItem"}},
		{mode: modeCheckout, wantMethods: []string{"AddItem", "BeginCheckout", "SubmitShipping", "SubmitPayment", "GetCheckout"}},
	}

	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			fake, srv := newFakeStorefront(t)

			cfg := config{
				baseURL:      srv.URL,
				total:        6,
				concurrency:  2,
				timeout:      time.Second,
				pollInterval: 5 * time.Millisecond,
				mode:         tc.mode,
				productID:    7,
			}
			result := runLoad(context.Background(), cfg)

			assert.Equal(t, int64(6), result.TotalScenarios)
			assert.Zero(t, result.FailedScenarios)
			for _, method := range tc.wantMethods {
				assert.Contains(t, result.Methods, method)
				assert.Zero(t, result.Methods[method].Failed, method)
			}

			if tc.mode == modeBrowse {
				assert.Equal(t, int64(1), result.SupersededSearch)
			}
			if tc.mode == modeCheckout {
				fake.mu.Lock()
				defer fake.mu.Unlock()
				assert.Len(t, fake.paymentKeys, 6, "each scenario must use its own idempotency key")
			}
		})
	}
}

func TestRunLoad_RecordsHTTPErrors(t *testing.T) {
	fake, srv := newFakeStorefront(t)
	fake.failCart = true

	result := runLoad(context.Background(), config{
		baseURL:      srv.URL,
		total:        3,
		concurrency:  1,
		timeout:      time.Second,
		pollInterval: time.Millisecond,
		mode:         modeCart,
		productID:    1,
	})

	assert.Equal(t, int64(3), result.FailedScenarios)
	assert.Equal(t, map[string]int64{"409": 3}, result.Methods["AddItem"].Codes)
	assert.NotContains(t, result.Methods, "UpdateQuantity")
}

func TestRunLoad_TransportError(t *testing.T) {
	result := runLoad(context.Background(), config{
		baseURL:      "http://127.0.0.1:1",
		total:        1,
		concurrency:  1,
		timeout:      200 * time.Millisecond,
		pollInterval: time.Millisecond,
		mode:         modeBrowse,
		productID:    1,
	})

	assert.Equal(t, int64(1), result.FailedScenarios)
	assert.Equal(t, int64(1), result.Methods["ListProducts"].Codes["TRANSPORT"])
}
