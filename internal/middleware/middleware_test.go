package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		method      string
		headers     map[string]string
		wantStatus  int
		wantOrigin  string
		wantMethods bool
	}{
		{
			name:       "wildcard echoes origin",
			allowed:    []string{"*"},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://app.test"},
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.test",
		},
		{
			name:       "listed origin",
			allowed:    []string{"https://a.test", " https://b.test"},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://b.test"},
			wantStatus: http.StatusOK,
			wantOrigin: "https://b.test",
		},
		{
			name:       "unlisted origin",
			allowed:    []string{"https://a.test"},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://evil.test"},
			wantStatus: http.StatusOK,
		},
		{
			name:    "preflight",
			allowed: []string{"*"},
			method:  http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "https://app.test",
				"Access-Control-Request-Method": http.MethodPut,
			},
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "https://app.test",
			wantMethods: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/books", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantOrigin, res.Header.Get("Access-Control-Allow-Origin"))
			if tt.wantMethods {
				assert.Contains(t, res.Header.Get("Access-Control-Allow-Methods"), http.MethodPut)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "req-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "req-1", seen)
		assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	})
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	h := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set("X-Request-Id", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, http.MethodPost, fields["method"])
	assert.Equal(t, "/api/orders", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(5), fields["size"])
	assert.Equal(t, "req-42", fields["request_id"])
}
