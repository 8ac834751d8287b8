package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wb-go/wbf/ginext"
)

func authRouter(token string) *ginext.Engine {
	r := ginext.New()
	r.Use(BearerAuth(token))
	r.GET("/ping", func(c *ginext.Context) {
		c.JSON(http.StatusOK, map[string]string{"pong": "ok"})
	})
	return r
}

func TestBearerAuthDisabled(t *testing.T) {
	r := authRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200 when auth is disabled", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	r := authRouter("secret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer secret", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	r := ginext.New()
	r.POST("/echo", BodyLimit(16), func(c *ginext.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.JSON(http.StatusBadRequest, map[string]string{"error": "body too large"})
			return
		}
		c.JSON(http.StatusOK, map[string]string{"ok": "true"})
	})

	small := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("tiny"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, small)
	if w.Code != http.StatusOK {
		t.Fatalf("small body: code = %d, want 200", w.Code)
	}

	big := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64)))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, big)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized body: code = %d, want 400", w.Code)
	}
}
