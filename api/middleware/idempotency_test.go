package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
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

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "fake:" + scope + ":" + id
}

func createOrder(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/plugins/mock/create-order", strings.NewReader(body))
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	h := Idempotency(newFakeStore(), nil, ReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	rec := serve(h, createOrder(`{"foo":"bar"}`, ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, called)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	h := Idempotency(store, nil, ReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := serve(h, createOrder(`{"foo":"bar"}`, "abc"))
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Empty(t, first.Header().Get("Idempotent-Replayed"))

	replay := serve(h, createOrder(`{"foo":"bar"}`, "abc"))
	require.Equal(t, http.StatusAccepted, replay.Code)
	require.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	require.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, `{"ok":true}`, replay.Body.String())
	require.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		require.Equal(t, ReplayTTL, ttl, key)
	}
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(newFakeStore(), nil, ReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve(h, createOrder(`{"foo":"bar"}`, "xyz"))
	rec := serve(h, createOrder(`{"foo":"diff"}`, "xyz"))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	var inner *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotency(store, nil, ReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// a duplicate arrives while the first request is still running
		inner = serve(h, createOrder(`{"foo":"bar"}`, "dup"))
		w.WriteHeader(http.StatusCreated)
	}))

	outer := serve(h, createOrder(`{"foo":"bar"}`, "dup"))
	require.Equal(t, http.StatusCreated, outer.Code)
	require.NotNil(t, inner)
	require.Equal(t, http.StatusConflict, inner.Code)
	require.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, inner))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	status := http.StatusBadGateway
	calls := 0
	h := Idempotency(store, nil, ReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	require.Equal(t, http.StatusBadGateway, serve(h, createOrder(`{}`, "retry")).Code)
	require.Empty(t, store.data)

	status = http.StatusOK
	require.Equal(t, http.StatusOK, serve(h, createOrder(`{}`, "retry")).Code)
	require.Equal(t, 2, calls)
	require.Len(t, store.data, 1)
}

func TestIdempotencyWithoutStorePassesThrough(t *testing.T) {
	calls := 0
	h := Idempotency(nil, nil, 0)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	require.Equal(t, http.StatusOK, serve(h, createOrder(`{}`, "")).Code)
	require.Equal(t, http.StatusOK, serve(h, createOrder(`{}`, "")).Code)
	require.Equal(t, 2, calls)
}

func TestIdempotencyScopesKeysPerCaller(t *testing.T) {
	store := newFakeStore()
	calls := 0
	h := Idempotency(store, nil, RefundReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Location", "/refunds/1")
		w.WriteHeader(http.StatusCreated)
	}))

	for _, user := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := createOrder(`{}`, "same-key")
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: user}))
		require.Equal(t, http.StatusCreated, serve(h, req).Code)
	}
	require.Equal(t, 2, calls)
	require.Len(t, store.data, 2)

	for key, raw := range store.data {
		rec, err := decodeRecord(raw)
		require.NoError(t, err)
		require.Equal(t, "/refunds/1", rec.Headers["Location"], key)
		require.Equal(t, RefundReplayTTL, store.ttls[key])
	}
}
