package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/intake"
	"github.com/smallbiznis/waiterless/internal/lifecycle"
	"github.com/smallbiznis/waiterless/internal/observability"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"github.com/smallbiznis/waiterless/internal/order/store"
	"github.com/smallbiznis/waiterless/internal/ratelimit"
	"github.com/smallbiznis/waiterless/internal/subscription"
	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/waiterless/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/waiterless/internal/tenant/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	srv     *Server
	tenants tenantdomain.Service
	core    *lifecycle.Coordinator
	clock   *clock.FakeClock
	tenant  tenantdomain.Tenant
}

type serverOption func(*ServerParams, *config.ReplayConfig)

func withLimiter(l *ratelimit.IntakeLimiter) serverOption {
	return func(p *ServerParams, _ *config.ReplayConfig) { p.Limiter = l }
}

func withReplay(maxEvents int) serverOption {
	return func(_ *ServerParams, r *config.ReplayConfig) { r.MaxEvents = maxEvents }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testEpoch)
	log := zap.NewNop()
	cfg := config.Config{DefaultTaxRateBps: 800, TenantCacheTTL: time.Minute}

	tenants := tenantservice.New(tenantservice.Params{
		Log:    log,
		GenID:  node,
		Repo:   tenantrepo.NewMemory(),
		Clock:  clk,
		Config: cfg,
	})

	params := ServerParams{
		Gin:     NewEngine(observability.Config{}, nil),
		Cfg:     cfg,
		Tenants: tenants,
		Log:     log,
	}
	replay := config.ReplayConfig{MaxEvents: 64, Window: time.Hour, SubscriberQueue: 64}
	for _, opt := range opts {
		opt(&params, &replay)
	}

	manager := subscription.NewManager(config.NewStaticReplayTuning(replay), clk, log, nil)
	bus := eventbus.NewBus(eventbus.Options{Deliverer: manager, Clock: clk, Log: log})
	core := lifecycle.NewCoordinator(lifecycle.Options{
		Tenants: tenants,
		Store:   store.NewMemoryStore(node, clk, log, nil),
		Bus:     bus,
		Clock:   clk,
		Log:     log,
	})
	params.Core = core
	params.Intake = intake.Default(core)
	params.Subscriptions = manager

	tenant, err := tenants.Onboard(context.Background(), tenantdomain.OnboardRequest{Name: "Blue Door Cafe"})
	require.NoError(t, err)

	return &testServer{srv: NewServer(params), tenants: tenants, core: core, clock: clk, tenant: tenant}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) base() string {
	return "/api/tenants/" + ts.tenant.Slug
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func (ts *testServer) createTable(t *testing.T, label string) domain.Table {
	t.Helper()
	rec := ts.do(t, http.MethodPost, ts.base()+"/tables", gin.H{"label": label})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData[domain.Table](t, rec)
}

func qrOrderBody() gin.H {
	return gin.H{
		"line_items": []gin.H{
			{"product_id": "latte", "quantity": 2, "unit_price": 450},
			{"product_id": "croissant", "quantity": 1, "unit_price": 375},
		},
		"customer_name": "Sam",
	}
}

func (ts *testServer) submitQR(t *testing.T, table domain.Table) domain.Order {
	t.Helper()
	rec := ts.do(t, http.MethodPost, ts.base()+"/qr/"+table.QRCode+"/orders", qrOrderBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData[domain.Order](t, rec)
}

func (ts *testServer) transition(t *testing.T, orderID snowflake.ID, name string, version int64) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, ts.base()+"/orders/"+orderID.String()+"/transitions", gin.H{
		"transition":       name,
		"expected_version": version,
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOnboardAndLookupTenant(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/tenants", gin.H{"name": "Harbour Roasters", "tax_rate_bps": 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeData[tenantdomain.Tenant](t, rec)
	assert.Equal(t, "harbour-roasters", created.Slug)
	assert.Equal(t, int64(1000), created.TaxRateBps)

	rec = ts.do(t, http.MethodGet, "/api/tenants/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeData[tenantdomain.Tenant](t, rec).ID)

	rec = ts.do(t, http.MethodPost, "/api/tenants", gin.H{"name": "Harbour Roasters"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tenants/nowhere", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "tenant_not_found", decodeError(t, rec).Type)
}

func TestQROrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	table := ts.createTable(t, "T1")
	assert.False(t, table.Occupied())

	order := ts.submitQR(t, table)
	assert.Equal(t, domain.StatusDraft, order.Status)
	assert.Equal(t, domain.ChannelQR, order.Channel)
	assert.Equal(t, int64(0), order.Version)
	assert.Equal(t, int64(1275), order.Subtotal)
	assert.Equal(t, int64(102), order.Tax)
	assert.Equal(t, int64(1377), order.Total)
	require.NotNil(t, order.TableID)
	assert.Equal(t, table.ID, *order.TableID)

	rec := ts.do(t, http.MethodGet, ts.base()+"/tables/"+table.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"occupied":true`)

	version := order.Version
	for _, step := range []string{"place", "confirm", "start_preparing", "mark_ready", "deliver", "close"} {
		rec := ts.transition(t, order.ID, step, version)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step, rec.Body.String())
		next := decodeData[domain.Order](t, rec)
		assert.Equal(t, version+1, next.Version)
		version = next.Version
	}

	rec = ts.do(t, http.MethodGet, ts.base()+"/orders/"+order.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	final := decodeData[domain.Order](t, rec)
	assert.Equal(t, domain.StatusClosed, final.Status)
	assert.Len(t, final.History, 7)

	rec = ts.do(t, http.MethodGet, ts.base()+"/tables/"+table.ID.String(), nil)
	assert.Contains(t, rec.Body.String(), `"occupied":false`)
}

func TestTransitionErrorsMapToStatusCodes(t *testing.T) {
	ts := newTestServer(t)
	order := ts.submitQR(t, ts.createTable(t, "T2"))

	rec := ts.transition(t, order.ID, "place", 0)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.transition(t, order.ID, "confirm", 0)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stale_version", decodeError(t, rec).Type)

	rec = ts.transition(t, order.ID, "deliver", 1)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Type)

	rec = ts.transition(t, order.ID, "teleport", 1)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_transition_name", payload.Errors[0].Code)

	rec = ts.do(t, http.MethodPost, ts.base()+"/orders/"+order.ID.String()+"/transitions", gin.H{"transition": "confirm"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "expected_version_required", decodeError(t, rec).Errors[0].Code)

	rec = ts.transition(t, snowflake.ID(12345), "place", 0)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.transition(t, order.ID, "confirm", 1)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, minutes := range []int{-5, 1441, 200_000_000} {
		rec = ts.do(t, http.MethodPost, ts.base()+"/orders/"+order.ID.String()+"/transitions", gin.H{
			"transition":        "start_preparing",
			"expected_version":  2,
			"estimated_minutes": minutes,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code, minutes)
		assert.Equal(t, "invalid_estimated_minutes", decodeError(t, rec).Errors[0].Code)
	}
}

func TestSecondOrderOnOccupiedTableConflicts(t *testing.T) {
	ts := newTestServer(t)
	table := ts.createTable(t, "Patio 1")
	ts.submitQR(t, table)

	rec := ts.do(t, http.MethodPost, ts.base()+"/qr/"+table.QRCode+"/orders", qrOrderBody())
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "table_occupied", decodeError(t, rec).Type)
}

func TestUpdateTableLabel(t *testing.T) {
	ts := newTestServer(t)
	table := ts.createTable(t, "T1")
	ts.createTable(t, "T2")

	rec := ts.do(t, http.MethodPut, ts.base()+"/tables/"+table.ID.String(), gin.H{"label": "Terrace 1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	renamed := decodeData[domain.Table](t, rec)
	assert.Equal(t, table.ID, renamed.ID)
	assert.Equal(t, "Terrace 1", renamed.Label)
	assert.Equal(t, table.QRCode, renamed.QRCode)

	rec = ts.do(t, http.MethodPut, ts.base()+"/tables/"+table.ID.String(), gin.H{"label": "t2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "table_label_taken", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPut, ts.base()+"/tables/"+table.ID.String(), gin.H{"label": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_table_label", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(t, http.MethodPut, ts.base()+"/tables/12345", gin.H{"label": "Nowhere"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "table_not_found", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPut, ts.base()+"/tables/abc", gin.H{"label": "Nowhere"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Errors[0].Code)

	order := ts.submitQR(t, renamed)
	require.NotNil(t, order.TableID)
	assert.Equal(t, table.ID, *order.TableID)
}

func TestSubmitOrderChannelValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, ts.base()+"/orders", gin.H{
		"channel":    "fax",
		"line_items": []gin.H{{"product_id": "tea", "quantity": 1, "unit_price": 300}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_channel", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(t, http.MethodPost, ts.base()+"/orders", gin.H{
		"channel":        "voice",
		"order_type":     "takeout",
		"customer_name":  "Robin",
		"customer_phone": "+1 (555) 010-2030",
		"line_items":     []gin.H{{"product_id": "tea", "quantity": 1, "unit_price": 300}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeData[domain.Order](t, rec)
	assert.Equal(t, domain.ChannelVoice, order.Channel)
	assert.Equal(t, "+15550102030", order.CustomerPhone)
	assert.Nil(t, order.TableID)

	rec = ts.do(t, http.MethodPost, ts.base()+"/orders", gin.H{
		"channel":    "web",
		"line_items": []gin.H{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "empty_order", payload.Errors[0].Code)
	assert.Equal(t, "line_items", payload.Errors[0].Field)
}

func TestInactiveTenantRejectsWritesButServesReads(t *testing.T) {
	ts := newTestServer(t)
	order := ts.submitQR(t, ts.createTable(t, "T3"))

	rec := ts.do(t, http.MethodPost, ts.base()+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeData[tenantdomain.Tenant](t, rec).Active)

	rec = ts.transition(t, order.ID, "place", 0)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "tenant_inactive", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, ts.base()+"/orders/"+order.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, ts.base()+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.transition(t, order.ID, "place", 0)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListOrdersFilters(t *testing.T) {
	ts := newTestServer(t)
	first := ts.submitQR(t, ts.createTable(t, "A"))
	second := ts.submitQR(t, ts.createTable(t, "B"))
	require.Equal(t, http.StatusOK, ts.transition(t, second.ID, "cancel", 0).Code)

	rec := ts.do(t, http.MethodGet, ts.base()+"/orders?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decodeData[[]domain.Order](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	rec = ts.do(t, http.MethodGet, ts.base()+"/orders?status=cancelled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decodeData[[]domain.Order](t, rec)
	require.Len(t, cancelled, 1)
	assert.Equal(t, second.ID, cancelled[0].ID)

	rec = ts.do(t, http.MethodGet, ts.base()+"/orders?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type countingBucket struct {
	limit int
	used  map[string]int
}

func (b *countingBucket) Allow(_ context.Context, key string, _ float64, _ int) (*ratelimit.Result, error) {
	b.used[key]++
	if b.used[key] > b.limit {
		return &ratelimit.Result{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
	}
	return &ratelimit.Result{Allowed: true}, nil
}

type memoryLocker struct {
	held map[string]string
}

func (m *memoryLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if _, ok := m.held[key]; ok {
		return "", false, nil
	}
	m.held[key] = key + "-token"
	return m.held[key], true, nil
}

func (m *memoryLocker) Release(_ context.Context, key, token string) error {
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func webOrder() gin.H {
	return gin.H{
		"channel":    "web",
		"order_type": "takeout",
		"line_items": []gin.H{{"product_id": "tea", "quantity": 1, "unit_price": 300}},
	}
}

func TestIntakeRateLimitThrottlesChannel(t *testing.T) {
	bucket := &countingBucket{limit: 2, used: map[string]int{}}
	limiter := ratelimit.NewIntakeLimiterWith(bucket, &memoryLocker{held: map[string]string{}}, config.RateLimitConfig{})
	ts := newTestServer(t, withLimiter(limiter))

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, ts.base()+"/orders", webOrder())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodPost, ts.base()+"/orders", webOrder())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, rateLimitReasonTenant, rec.Header().Get(headerRateLimitHint))
	assert.Equal(t, 3, bucket.used["intake:tenant:"+ts.tenant.ID.String()])
}

func TestIntakeIdempotencyKey(t *testing.T) {
	bucket := &countingBucket{limit: 100, used: map[string]int{}}
	locks := &memoryLocker{held: map[string]string{}}
	limiter := ratelimit.NewIntakeLimiterWith(bucket, locks, config.RateLimitConfig{})
	ts := newTestServer(t, withLimiter(limiter))

	rec := ts.do(t, http.MethodPost, ts.base()+"/orders", webOrder(), headerIdempotency, "wa-msg-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, ts.base()+"/orders", webOrder(), headerIdempotency, "wa-msg-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_submission", decodeError(t, rec).Type)

	bad := webOrder()
	bad["line_items"] = []gin.H{}
	rec = ts.do(t, http.MethodPost, ts.base()+"/orders", bad, headerIdempotency, "wa-msg-2")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, ts.base()+"/orders", webOrder(), headerIdempotency, "wa-msg-2")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMapErrorDefaults(t *testing.T) {
	status, payload := mapError(nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)

	status, payload = mapError(ErrServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service_unavailable", payload.Type)

	kind, code := classifyErrorForLog(domain.ErrInvalidChannel)
	assert.Equal(t, "invalid_request", kind)
	assert.Equal(t, "invalid_channel", code)
}
