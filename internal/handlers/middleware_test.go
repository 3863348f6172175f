package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/chat-widget/internal/handlers"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestCORSMiddleware(t *testing.T) {
	h := handlers.CORSMiddleware(okHandler())

	tests := []struct {
		name       string
		method     string
		wantStatus int
		wantBody   string
	}{
		{name: "Preflight", method: http.MethodOptions, wantStatus: http.StatusNoContent},
		{name: "Request", method: http.MethodPost, wantStatus: http.StatusOK, wantBody: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chat", nil)
			req.Header.Set("Origin", "https://shop.example.com")
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := handlers.RateLimitMiddleware(0.001, 1, []string{"/health"}, nil)(okHandler())

	do := func(path, remote string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("/chat", "10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("first request status = %v, want %v", code, http.StatusOK)
	}
	if code := do("/chat", "10.0.0.1:1235"); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %v, want %v", code, http.StatusTooManyRequests)
	}
	if code := do("/chat", "10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other client status = %v, want %v", code, http.StatusOK)
	}
	if code := do("/health", "10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("skipped path status = %v, want %v", code, http.StatusOK)
	}
}

func TestRateLimitMiddlewareForwardedFor(t *testing.T) {
	trusted, err := handlers.ParseTrustedProxies([]string{"10.1.0.0/16", "192.168.0.1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}
	h := handlers.RateLimitMiddleware(0.001, 1, nil, trusted)(okHandler())

	do := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	// A direct client cannot dodge the limit by rotating the header.
	if code := do("203.0.113.7:1000", "1.1.1.1"); code != http.StatusOK {
		t.Errorf("first direct request status = %v, want %v", code, http.StatusOK)
	}
	if code := do("203.0.113.7:1001", "2.2.2.2"); code != http.StatusTooManyRequests {
		t.Errorf("spoofed header status = %v, want %v", code, http.StatusTooManyRequests)
	}

	// Behind trusted proxies the nearest untrusted hop is the client.
	if code := do("10.1.2.3:1000", "9.9.9.9, 198.51.100.1, 192.168.0.1"); code != http.StatusOK {
		t.Errorf("first proxied request status = %v, want %v", code, http.StatusOK)
	}
	if code := do("10.1.9.9:1000", "8.8.8.8, 198.51.100.1"); code != http.StatusTooManyRequests {
		t.Errorf("same proxied client status = %v, want %v", code, http.StatusTooManyRequests)
	}
	if code := do("10.1.2.3:1000", "198.51.100.2"); code != http.StatusOK {
		t.Errorf("other proxied client status = %v, want %v", code, http.StatusOK)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	if _, err := handlers.ParseTrustedProxies([]string{"10.0.0.0/8", "::1"}); err != nil {
		t.Errorf("ParseTrustedProxies() error = %v", err)
	}
	if _, err := handlers.ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Error("ParseTrustedProxies() should reject an invalid address")
	}
}

func TestLoggingMiddlewareMetrics(t *testing.T) {
	metrics := handlers.NewMetrics()
	h := handlers.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusTeapot)
		}),
		handlers.LoggingMiddleware(discardLogger(), metrics, nil),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/chat", nil))

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	want := `http_requests_total{method="GET",path="/chat",status="418"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("metrics = %v, want to contain %v", w.Body.String(), want)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) handlers.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handlers.Chain(okHandler(), mw("outer"), mw("inner")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v, want outer,inner", order)
	}
}
