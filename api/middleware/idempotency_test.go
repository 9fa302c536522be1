package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "fake:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func payoutRequest(key, body string) *http.Request {
	req := requestWithPattern(http.MethodPost, "/api/v1/wallet/payouts", "/api/v1/wallet/payouts", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestReplayWindowSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"hold", http.MethodPost, "/api/v1/escrow/holds", extendedReplayWindow, true},
		{"hold trailing slash", http.MethodPost, "/api/v1/escrow/holds/", extendedReplayWindow, true},
		{"release", http.MethodPost, "/api/v1/escrow/holds/{holdId}/release", extendedReplayWindow, true},
		{"reverse by path", http.MethodPost, "/api/v1/escrow/holds/4b1c/reverse", extendedReplayWindow, true},
		{"payout", http.MethodPost, "/api/v1/wallet/payouts", extendedReplayWindow, true},
		{"manual grant", http.MethodPost, "/api/admin/v1/credits/grants", extendedReplayWindow, true},
		{"confirm", http.MethodPost, "/api/v1/credits/confirm", shortReplayWindow, true},
		{"admin payout fail", http.MethodPost, "/api/admin/v1/payouts/{payoutId}/fail", shortReplayWindow, true},
		{"list holds", http.MethodGet, "/api/v1/escrow/holds", 0, false},
		{"extra segment", http.MethodPost, "/api/v1/escrow/holds/a/b/release", 0, false},
		{"webhook", http.MethodPost, "/api/v1/webhooks/stripe", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, ok := replayWindow(tt.method, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, window)
		})
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	Idempotency(newFakeStore(), nil)(handler).ServeHTTP(rec, payoutRequest("", `{"amount":"10"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	rec := httptest.NewRecorder()
	Idempotency(newFakeStore(), nil)(handler).ServeHTTP(rec, payoutRequest(strings.Repeat("k", maxIdempotencyKey+1), `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, payoutRequest("abc", `{"amount":"10"}`))
	require.Equal(t, http.StatusAccepted, first.Code)

	replay := httptest.NewRecorder()
	mw(handler).ServeHTTP(replay, payoutRequest("abc", `{"amount":"10"}`))

	assert.Equal(t, http.StatusAccepted, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, `{"ok":true}`, replay.Body.String())
	assert.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		assert.Equal(t, extendedReplayWindow, ttl, key)
	}
}

func TestIdempotencyRejectsReusedKeyWithDifferentBody(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), payoutRequest("xyz", `{"amount":"10"}`))

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, payoutRequest("xyz", `{"amount":"99"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsDuplicateWhileInFlight(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var duplicate *httptest.ResponseRecorder
	calls := 0

	var handler http.Handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// the same request arrives again before this one finishes
			duplicate = httptest.NewRecorder()
			mw(handler).ServeHTTP(duplicate, payoutRequest("race", `{"amount":"10"}`))
		}
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, payoutRequest("race", `{"amount":"10"}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, duplicate))
	assert.Equal(t, 1, calls)
}

func TestIdempotencyReleasesKeyAfterServerError(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	statuses := []int{http.StatusServiceUnavailable, http.StatusCreated}
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statuses[calls])
		calls++
	})

	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, payoutRequest("retry-me", `{"amount":"10"}`))
	assert.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.Empty(t, store.data)

	second := httptest.NewRecorder()
	mw(handler).ServeHTTP(second, payoutRequest("retry-me", `{"amount":"10"}`))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
	assert.Len(t, store.data, 1)
}

func TestIdempotencyKeepsClientErrors(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, payoutRequest("bad-amount", `{"amount":"-1"}`))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	}
	assert.Equal(t, 1, calls)
}

func TestIdempotencyScopesKeysPerCaller(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for _, user := range []string{"user-a", "user-b"} {
		req := requestWithPattern(http.MethodPost, "/api/v1/escrow/holds", "/api/*", strings.NewReader(`{"amount":"10.00"}`))
		req = req.WithContext(WithUserID(req.Context(), user))
		req.Header.Set(idempotencyHeader, "same-key")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencySkipsReads(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	Idempotency(newFakeStore(), nil)(handler).ServeHTTP(rec, requestWithPattern(http.MethodGet, "/api/v1/wallet", "/api/v1/wallet", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
