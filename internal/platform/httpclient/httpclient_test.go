package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewVerifiesCertificatesByDefault(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(context.Background(), Config{Timeout: 5 * time.Second}, quietLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if _, err := client.Get(srv.URL); err == nil {
		t.Fatalf("expected certificate verification failure")
	}
}

func TestNewInsecureAcceptsSelfSigned(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(context.Background(), Config{Timeout: 5 * time.Second, InsecureSkipVerify: true}, quietLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
}

func TestNewAttachesClientCredentialsToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := Config{
		Timeout: 5 * time.Second,
		OAuth:   OAuthConfig{ClientID: "migrator", ClientSecret: "secret", TokenURL: srv.URL + "/token"},
	}
	client, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	resp, err := client.Get(srv.URL + "/convert")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
}

func TestNewDiscoversTokenEndpointFromIssuer(t *testing.T) {
	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/oauth/token",
			"jwks_uri":               issuer + "/jwks",
		})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-2", "token_type": "bearer"})
	})
	mux.HandleFunc("/deliver", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	issuer = srv.URL

	cfg := Config{OAuth: OAuthConfig{ClientID: "migrator", ClientSecret: "secret", Issuer: issuer}}
	client, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	resp, err := client.Post(srv.URL+"/deliver", "text/plain", nil)
	if err != nil {
		t.Fatalf("Post() err=%v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d, want 201", resp.StatusCode)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(context.Background(), Config{RateLimit: 0.001, RateBurst: 1}, quietLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("first Get() err=%v", err)
	}
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if _, err := client.Do(req); err == nil {
		t.Fatalf("expected limiter to refuse the second call within the deadline")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "negative rate", cfg: Config{RateLimit: -1}, wantErr: true},
		{name: "rate without burst", cfg: Config{RateLimit: 1}, wantErr: true},
		{name: "oauth without endpoint", cfg: Config{OAuth: OAuthConfig{ClientID: "c"}}, wantErr: true},
		{name: "oauth with issuer", cfg: Config{OAuth: OAuthConfig{ClientID: "c", Issuer: "https://id.example"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
