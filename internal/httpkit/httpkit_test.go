package httpkit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	handler := CORS(CORSOptions{AllowedOrigins: []string{"https://app.example.com", " "}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://app.example.com", 200, "https://app.example.com"},
		{"unknown origin", http.MethodGet, "https://evil.example.com", 200, ""},
		{"preflight", http.MethodOptions, "https://app.example.com", 204, "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/process", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestWriteErr(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, 500, "INTERNAL_ERROR", "list failed", map[string]any{"prefix": "personas/"})

	assert.Equal(t, 500, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{`"code":"INTERNAL_ERROR"`, `"message":"list failed"`, `"prefix":"personas/"`} {
		assert.Contains(t, body, want)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	var v struct{ Mode string }
	assert.NoError(t, DecodeJSON(req, &v), "empty body should be accepted")
}

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, IsUndefinedTable(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"})))
	assert.False(t, IsUndefinedTable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUndefinedTable(fmt.Errorf("plain")))
}
