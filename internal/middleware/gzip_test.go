package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBookHandler отвечает телом запроса с заданными статусом и типом содержимого.
func echoBookHandler(status int, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		if status != http.StatusNoContent {
			_, _ = w.Write(body)
		}
	}
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestGzipMiddleware(t *testing.T) {
	const book = `{"meta":{"title":"Luna and the Lighthouse","locale":"en"}}`

	type want struct {
		statusCode      int
		contentEncoding string
		body            string
	}

	tests := []struct {
		name           string
		status         int
		contentType    string
		acceptEncoding string
		gzipRequest    bool
		want           want
	}{
		{
			name:           "json response is compressed",
			status:         http.StatusOK,
			contentType:    "application/json",
			acceptEncoding: "gzip, deflate",
			want:           want{statusCode: http.StatusOK, contentEncoding: "gzip", body: book},
		},
		{
			name:        "client without gzip gets plain body",
			status:      http.StatusOK,
			contentType: "application/json",
			want:        want{statusCode: http.StatusOK, body: book},
		},
		{
			name:           "compressed request body is unpacked",
			status:         http.StatusOK,
			contentType:    "application/json",
			acceptEncoding: "gzip",
			gzipRequest:    true,
			want:           want{statusCode: http.StatusOK, contentEncoding: "gzip", body: book},
		},
		{
			name:           "pdf is sent as is",
			status:         http.StatusOK,
			contentType:    "application/pdf",
			acceptEncoding: "gzip",
			want:           want{statusCode: http.StatusOK, body: book},
		},
		{
			name:           "error response is not compressed",
			status:         http.StatusNotFound,
			contentType:    "application/json",
			acceptEncoding: "gzip",
			want:           want{statusCode: http.StatusNotFound, body: book},
		},
		{
			name:           "no content",
			status:         http.StatusNoContent,
			contentType:    "application/json",
			acceptEncoding: "gzip",
			want:           want{statusCode: http.StatusNoContent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqBody io.Reader = bytes.NewBufferString(book)
			if tt.gzipRequest {
				reqBody = bytes.NewReader(gzipBytes(t, book))
			}

			req := httptest.NewRequest(http.MethodPost, "/api/books", reqBody)
			req.Header.Set("Content-Type", "application/json")
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}

			rec := httptest.NewRecorder()
			GzipMiddleware(echoBookHandler(tt.status, tt.contentType)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.want.statusCode, res.StatusCode)
			assert.Equal(t, tt.want.contentEncoding, res.Header.Get("Content-Encoding"))

			var body io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				body = gr
			}

			got, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, tt.want.body, string(got))
		})
	}
}

func TestGzipMiddleware_MalformedRequestBody(t *testing.T) {
	called := false
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPut, "/api/books/1", bytes.NewBufferString("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}
