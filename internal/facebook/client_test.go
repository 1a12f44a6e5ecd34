package facebook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/config"
	"northsea/internal/pkg/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.FacebookConfig)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.FacebookConfig{
		BaseURL:          srv.URL,
		APIVersion:       "v18.0",
		AppID:            "123",
		AppSecret:        "shh",
		AccessToken:      "user-token",
		Timeout:          2 * time.Second,
		BreakerThreshold: 3,
		BreakerTimeout:   time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg, nil, discardLogger()), srv
}

func TestClient_MeSendsBearer(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v18.0/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Query().Get("access_token") != "" {
			t.Errorf("token must not be sent in the query string")
		}
		_, _ = io.WriteString(w, `{"id":"42","name":"North Sea"}`)
	})

	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ID != "42" || me.Name != "North Sea" {
		t.Fatalf("unexpected user %+v", me)
	}
}

func TestClient_GraphErrorCarriesUpstreamMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190,"error_subcode":463,"fbtrace_id":"AbC"}}`)
	})

	_, err := c.PageInfo(context.Background(), "12345")
	if !errors.Is(err, apperr.ErrExternalAPI) {
		t.Fatalf("expected external api error, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Message != "Invalid OAuth access token." {
		t.Fatalf("unexpected message: %v", err)
	}
	detail, ok := ae.Details.(*apperr.UpstreamDetail)
	if !ok || detail.Code != 190 || detail.Subcode != 463 || detail.FBTraceID != "AbC" || detail.Status != 400 {
		t.Fatalf("unexpected detail: %+v", ae.Details)
	}
}

func TestClient_NonJSONFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	_, err := c.Me(context.Background())
	if !errors.Is(err, apperr.ErrExternalAPI) || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("expected external api error, got %v", err)
	}
}

func TestClient_DisabledWithoutToken(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, func(cfg *config.FacebookConfig) { cfg.AccessToken = "" })

	if _, err := c.Me(context.Background()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("no request may be sent without a token")
	}
	if c.NetworkStatus() != "good" {
		t.Fatalf("disabled client reports good network")
	}
}

func TestClient_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Me(ctx); err == nil {
			t.Fatalf("expected failure %d", i)
		}
	}
	if c.NetworkStatus() != "offline" {
		t.Fatalf("expected offline, got %s", c.NetworkStatus())
	}

	_, err := c.Me(ctx)
	if !errors.Is(err, apperr.ErrExternalAPI) || !strings.Contains(err.Error(), "graph api circuit open") {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("open breaker must not reach upstream, hits=%d", hits.Load())
	}
}

func TestClient_ClientErrorsDoNotTrip(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Unsupported get request.","code":100}}`)
	})
	for i := 0; i < 5; i++ {
		_, _ = c.PageInfo(context.Background(), "missing")
	}
	if c.NetworkStatus() != "good" {
		t.Fatalf("4xx responses must not open the breaker, got %s", c.NetworkStatus())
	}
}

func TestClient_PagePostsAndSearch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v18.0/99/posts":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("unexpected limit %q", r.URL.Query().Get("limit"))
			}
			_, _ = io.WriteString(w, `{"data":[{"id":"99_1","message":"hi","likes":{"summary":{"total_count":7}},"comments":{"summary":{"total_count":2}},"shares":{"count":1}}]}`)
		case "/v18.0/search":
			if r.URL.Query().Get("type") != "group" || r.URL.Query().Get("q") != "go lang" {
				t.Errorf("unexpected search query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"data":[{"id":"g1","name":"Gophers"}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	posts, err := c.PagePosts(ctx, "99", 5)
	if err != nil {
		t.Fatalf("page posts: %v", err)
	}
	if len(posts) != 1 || posts[0].LikeCount() != 7 || posts[0].CommentCount() != 2 || posts[0].ShareCount() != 1 {
		t.Fatalf("unexpected posts %+v", posts)
	}

	groups, err := c.SearchGroups(ctx, "go lang", 0)
	if err != nil {
		t.Fatalf("search groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "Gophers" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	if _, err := c.SearchPages(ctx, "  ", 10); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty query, got %v", err)
	}
}

func TestClient_DebugTokenUsesAppToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer 123|shh" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Query().Get("input_token") != "user-token" {
			t.Errorf("missing input_token")
		}
		_, _ = io.WriteString(w, `{"data":{"app_id":"123","is_valid":true,"expires_at":1700000000,"scopes":["pages_read_engagement"]}}`)
	})

	info, err := c.DebugToken(context.Background())
	if err != nil {
		t.Fatalf("debug token: %v", err)
	}
	if !info.IsValid || info.ExpiresAt != 1700000000 || len(info.Scopes) != 1 {
		t.Fatalf("unexpected token info %+v", info)
	}
}

func TestClient_TransportError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.Me(context.Background())
	if !errors.Is(err, apperr.ErrExternalAPI) {
		t.Fatalf("expected external api error, got %v", err)
	}
}

type timeoutLimiter struct{}

func (timeoutLimiter) Acquire(ctx context.Context) error { return ratelimit.ErrRateLimitTimeout }

func (timeoutLimiter) Throttle(context.Context, time.Duration) error { return nil }

func TestClient_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewClient(config.FacebookConfig{BaseURL: srv.URL, AccessToken: "t"}, timeoutLimiter{}, discardLogger())
	if _, err := c.Me(context.Background()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("rate limited call must not reach upstream")
	}
}

type holdRecorder struct {
	mu    sync.Mutex
	holds []time.Duration
}

func (*holdRecorder) Acquire(context.Context) error { return nil }

func (h *holdRecorder) Throttle(_ context.Context, d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.holds = append(h.holds, d)
	return nil
}

func (h *holdRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.holds)
}

func TestClient_QuotaErrorHoldsCalls(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		hold   bool
	}{
		{"app quota", http.StatusForbidden, `{"error":{"message":"Application request limit reached","type":"OAuthException","code":4}}`, true},
		{"page quota", http.StatusBadRequest, `{"error":{"message":"Page request limit reached","type":"OAuthException","code":32}}`, true},
		{"too many requests", http.StatusTooManyRequests, `slow down`, true},
		{"bad token", http.StatusBadRequest, `{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			rec := &holdRecorder{}
			cfg := config.FacebookConfig{BaseURL: srv.URL, AccessToken: "t", ThrottlePause: 90 * time.Second}
			c := NewClient(cfg, rec, discardLogger())
			if _, err := c.Me(context.Background()); !errors.Is(err, apperr.ErrExternalAPI) {
				t.Fatalf("expected external api error, got %v", err)
			}
			if !tc.hold {
				if rec.count() != 0 {
					t.Fatalf("unexpected hold %v", rec.holds)
				}
				return
			}
			if rec.count() != 1 || rec.holds[0] != 90*time.Second {
				t.Fatalf("expected one 90s hold, got %v", rec.holds)
			}
		})
	}
}
