package handlers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"offlinepos/internal/config"
	"offlinepos/internal/domain"
	"offlinepos/internal/http/handlers"
	"offlinepos/internal/repos"
	"offlinepos/internal/seed"
	"offlinepos/internal/services"
	"offlinepos/internal/syncer"
)

type switchConn struct{ on atomic.Bool }

func (s *switchConn) Online() bool { return s.on.Load() }

type nopRemote struct{ calls atomic.Int32 }

func (r *nopRemote) Insert(context.Context, string, string, []byte) error { r.calls.Add(1); return nil }
func (r *nopRemote) Update(context.Context, string, string, []byte) error { r.calls.Add(1); return nil }
func (r *nopRemote) Delete(context.Context, string, string) error { r.calls.Add(1); return nil }

type testApp struct {
	app    *fiber.App
	deps   *handlers.Deps
	engine *syncer.Engine
	db     *sqlx.DB
	conn   *switchConn
	remote *nopRemote
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	c, err := seed.Load("../../seed/testdata/catalog.yaml")
	require.NoError(t, err)
	_, err = seed.Import(ctx, db, c, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	hash, err := services.HashPassword("Manag3r!pass")
	require.NoError(t, err)
	require.NoError(t, repos.NewUserRepo(db).Upsert(ctx, db, domain.User{
		ID: "u-budi", TenantID: "t-kopi", BranchID: "b-main", Email: "budi@kopi.test", Name: "Budi", Hash: hash, Role: "MANAGER",
	}))

	conn := &switchConn{}
	remote := &nopRemote{}
	engine := syncer.NewEngine(remote, repos.NewQueueRepo(db), conn, syncer.DefaultBackoff())
	cfg := config.Config{MaxTransactionTotal: 100_000_000_000}
	deps := handlers.NewDeps(db, cfg, engine, conn)
	app := handlers.NewApp(deps, nil)
	return &testApp{app: app, deps: deps, engine: engine, db: db, conn: conn, remote: remote}
}

func (ta *testApp) do(t *testing.T, method, path, sid string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.Header.Set("Authorization", "Bearer "+sid)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (ta *testApp) login(t *testing.T, email, pw string) string {
	t.Helper()
	resp, body := ta.do(t, "POST", "/api/v1/login", "", map[string]string{"email": email, "password": pw})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	sid, _ := body["session"].(string)
	require.NotEmpty(t, sid)
	return sid
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error object: %v", body)
	return e
}

func TestCheckoutCreatesReceipt(t *testing.T) {
	ta := newTestApp(t)
	sid := ta.login(t, "ana@kopi.test", "Secr3t!pass")

	resp, body := ta.do(t, "POST", "/api/v1/checkout", sid, map[string]any{
		"items":          []map[string]any{{"product_id": "p-espresso", "quantity": 2, "unit_price": 18000}},
		"payment_method": "cash",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	require.EqualValues(t, 36000, body["total"])
	display := body["display"].(map[string]any)
	require.Equal(t, "36,000", display["total"])

	id := body["id"].(string)
	resp, got := ta.do(t, "GET", "/api/v1/transactions/"+id, sid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, id, got["id"])

	resp, _ = ta.do(t, "GET", "/api/v1/transactions/missing-id", sid, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckoutShortfallBody(t *testing.T) {
	ta := newTestApp(t)
	sid := ta.login(t, "ana@kopi.test", "Secr3t!pass")

	resp, body := ta.do(t, "POST", "/api/v1/checkout", sid, map[string]any{
		"items":          []map[string]any{{"product_id": "p-caramel", "quantity": 1, "unit_price": 32000}},
		"payment_method": "card",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	e := errorOf(t, body)
	require.Equal(t, string(domain.KindInsufficientStock), e["kind"])
	sf := e["shortfall"].(map[string]any)
	require.Equal(t, "m-caramel", sf["id"])

	n, err := repos.NewQueueRepo(ta.db).Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, n, "failed checkout must not enqueue")
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	ta := newTestApp(t)
	sid := ta.login(t, "ana@kopi.test", "Secr3t!pass")

	resp, body := ta.do(t, "POST", "/api/v1/checkout", sid, map[string]any{"items": []any{}, "payment_method": "cash"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, string(domain.KindInvariantViolation), errorOf(t, body)["kind"])

	resp, _ = ta.do(t, "POST", "/api/v1/checkout", sid, map[string]any{
		"items":          []map[string]any{{"product_id": "p-espresso", "quantity": 1, "unit_price": 18000}},
		"payment_method": "cash",
		"shift_id":       "bad id!",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	ta := newTestApp(t)

	resp, body := ta.do(t, "POST", "/api/v1/checkout", "", map[string]any{"items": []any{}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, string(domain.KindAuthentication), errorOf(t, body)["kind"])

	resp, _ = ta.do(t, "GET", "/api/v1/sync/status", "not-a-session", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ta.do(t, "POST", "/api/v1/login", "", map[string]string{"email": "ana@kopi.test", "password": "Wr0ng!pass"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutesNeedManager(t *testing.T) {
	ta := newTestApp(t)
	cashier := ta.login(t, "ana@kopi.test", "Secr3t!pass")
	manager := ta.login(t, "budi@kopi.test", "Manag3r!pass")

	resp, _ := ta.do(t, "POST", "/api/v1/admin/products/p-espresso/stock", cashier, map[string]any{"stock": 50})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ta.do(t, "POST", "/api/v1/admin/products/p-espresso/stock", manager, map[string]any{"stock": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.EqualValues(t, 50, body["stock"])

	resp, _ = ta.do(t, "POST", "/api/v1/admin/materials/m-caramel/restock", manager, map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ta.do(t, "POST", "/api/v1/admin/materials/m-caramel/restock", manager, map[string]any{"quantity": 500})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = ta.do(t, "GET", "/api/v1/materials/low-stock", cashier, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, body["count"])
}

func TestSyncEndpoints(t *testing.T) {
	ta := newTestApp(t)
	sid := ta.login(t, "ana@kopi.test", "Secr3t!pass")

	resp, body := ta.do(t, "GET", "/api/v1/sync/status", sid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["online"])
	require.EqualValues(t, 6, body["pending"])

	resp, body = ta.do(t, "POST", "/api/v1/sync/now", sid, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "offline", errorOf(t, body)["kind"])
	require.Zero(t, ta.remote.calls.Load())

	ta.conn.on.Store(true)
	resp, body = ta.do(t, "POST", "/api/v1/sync/now", sid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.EqualValues(t, 0, body["pending"])
	require.EqualValues(t, 6, ta.remote.calls.Load())

	resp, body = ta.do(t, "GET", "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["online"])
}

func TestErrorsDoNotLeakDetails(t *testing.T) {
	ta := newTestApp(t)
	sid := ta.login(t, "ana@kopi.test", "Secr3t!pass")
	require.NoError(t, ta.db.Close())

	resp, body := ta.do(t, "POST", "/api/v1/checkout", sid, map[string]any{
		"items":          []map[string]any{{"product_id": "p-espresso", "quantity": 1, "unit_price": 18000}},
		"payment_method": "cash",
	})
	require.GreaterOrEqual(t, resp.StatusCode, 500)
	raw, _ := json.Marshal(body)
	require.NotContains(t, strings.ToLower(string(raw)), "sql")
}

func TestBodyLimitAndUnknownRoute(t *testing.T) {
	ta := newTestApp(t)

	big := bytes.Repeat([]byte("a"), (1<<20)+1024)
	req := httptest.NewRequest("POST", "/api/v1/login", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ta.app.Test(req, -1)
	// fasthttp rejects the read itself, app.Test surfaces that as an error
	if err != nil {
		require.Contains(t, err.Error(), "body size exceeds")
	} else {
		require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	}

	resp, body := ta.do(t, "GET", "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "not_found", errorOf(t, body)["kind"])
}

// readEvent returns the next sync event, skipping keep-alive comments.
func readEvent(t *testing.T, r *bufio.Reader) syncer.Event {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data == "" {
				continue
			}
			require.Equal(t, "sync", name)
			var ev syncer.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			return ev
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSyncEventsStream(t *testing.T) {
	ta := newTestApp(t)
	sid := ta.login(t, "ana@kopi.test", "Secr3t!pass")

	done := make(chan struct{})
	ta.deps.SyncHandler.Done = done
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() {
		close(done)
		_ = ta.app.ShutdownWithTimeout(2 * time.Second)
	})

	req, err := http.NewRequest("GET", "http://"+ln.Addr().String()+"/api/v1/sync/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sid)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readEvent(t, r)
	require.Equal(t, syncer.Idle, first.State)
	require.False(t, first.Online)
	require.Equal(t, 6, first.Pending)
	require.Nil(t, first.Result)

	ta.conn.on.Store(true)
	_, err = ta.engine.SyncNow(context.Background())
	require.NoError(t, err)

	ev := readEvent(t, r)
	require.Equal(t, syncer.Syncing, ev.State)
	for ev.Result == nil {
		ev = readEvent(t, r)
	}
	require.Equal(t, syncer.Idle, ev.State)
	require.True(t, ev.Online)
	require.Zero(t, ev.Pending)
	require.Equal(t, 6, ev.Result.Succeeded)
}
