package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/domain/tracking"
	"github.com/NordCoder/Pricerus/internal/repository/memory"
	"github.com/NordCoder/Pricerus/internal/services/scheduler"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeTicker struct {
	calls []time.Time
	err   error
}

func (f *fakeTicker) TriggerTick(_ context.Context, now time.Time) (scheduler.TickReport, error) {
	f.calls = append(f.calls, now)
	return scheduler.TickReport{TickID: "t-1", At: now, Fetched: 2, Admitted: 1, Deferred: 1}, f.err
}

func newServer(t *testing.T, keys Keys) (*Server, *memory.Store, int64, *fakeTicker) {
	t.Helper()
	s := memory.New()
	uid := s.AddUser("buyer@example.com")
	id := s.AddConfig(tracking.Config{
		UserID:      uid,
		ProductURL:  "https://shop.example/p/1",
		TargetPrice: decimal.RequireFromString("20"),
		MinInterval: time.Hour,
		Enabled:     true,
	})
	tk := &fakeTicker{}
	return &Server{
		Log:           zap.NewNop(),
		Configs:       s.Tracking(),
		Runs:          s.Runs(),
		Prices:        s.Prices(),
		Notifications: s.Notifications(),
		Ticker:        tk,
		Clock:         fixedClock{t0},
		Keys:          keys,
	}, s, id, tk
}

func do(t *testing.T, h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus_LatestRunAndPrice(t *testing.T) {
	srv, s, id, _ := newServer(t, Keys{})
	ctx := context.Background()

	ok := scrape.Succeeded(id, t0, t0.Add(time.Second), decimal.RequireFromString("24.5"), 200)
	require.NoError(t, s.Runs().Insert(ctx, ok))
	require.NoError(t, s.Prices().Append(ctx, &price.Observation{
		ConfigID: id, RunID: ok.ID, Price: decimal.RequireFromString("24.5"), RecordedAt: t0.Add(time.Second),
	}))
	blocked := scrape.Failed(id, t0.Add(time.Hour), t0.Add(time.Hour+time.Second), scrape.ClassBlocked, 503)
	require.NoError(t, s.Runs().Insert(ctx, blocked))

	rec := do(t, srv.Router(), http.MethodGet, "/v1/configs/"+itoa(id)+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view statusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.ConfigID)
	assert.Equal(t, "20.00", view.TargetPrice)
	require.NotNil(t, view.Latest)
	assert.Equal(t, scrape.OutcomeBlocked, view.Latest.Outcome)
	assert.Equal(t, scrape.ClassBlocked, view.Latest.ErrorClass)
	require.NotNil(t, view.LastPrice)
	assert.Equal(t, "24.50", *view.LastPrice)
}

func TestStatus_UnknownConfig(t *testing.T) {
	srv, _, _, _ := newServer(t, Keys{})
	h := srv.Router()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/configs/9999/status", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/configs/9999/runs", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/configs/abc/status", nil).Code)
}

func TestRuns_NewestFirstWithLimit(t *testing.T) {
	srv, s, id, _ := newServer(t, Keys{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Runs().Insert(ctx, scrape.Failed(id, at, at, scrape.ClassNetwork, 0)))
	}

	rec := do(t, srv.Router(), http.MethodGet, "/v1/configs/"+itoa(id)+"/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.Equal(t0.Add(2*time.Hour)))
	assert.Equal(t, scrape.ClassNetwork, runs[0].ErrorClass)
	assert.Nil(t, runs[0].Price)
}

func TestTick_RequiresAdminKey(t *testing.T) {
	srv, _, id, tk := newServer(t, Keys{Public: []string{"pub"}, Admin: []string{"adm"}})
	h := srv.Router()

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/ticks", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		do(t, h, http.MethodPost, "/v1/ticks", map[string]string{"Authorization": "Bearer pub"}).Code)

	rec := do(t, h, http.MethodPost, "/v1/ticks", map[string]string{"X-API-Key": "adm"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var rep scheduler.TickReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Admitted)
	require.Len(t, tk.calls, 1)
	assert.Equal(t, t0, tk.calls[0])

	path := "/v1/configs/" + itoa(id) + "/status"
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, path, map[string]string{"Authorization": "Bearer pub"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, path, map[string]string{"Authorization": "Bearer adm"}).Code)
}

func TestTick_Failure(t *testing.T) {
	srv, _, _, tk := newServer(t, Keys{})
	tk.err = errors.New("db down")

	rec := do(t, srv.Router(), http.MethodPost, "/v1/ticks", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newServer(t, Keys{Admin: []string{"adm"}})
	rec := do(t, srv.Router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
