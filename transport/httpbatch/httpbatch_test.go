package httpbatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/record"
)

func newTransport(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Transport {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/"
	cfg.Database = "people"
	cfg.Username = "admin"
	cfg.Password = "secret"
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := New(cfg, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tr
}

// --- Config Tests ---

func TestNew_RequiresDatabase(t *testing.T) {
	if _, err := New(DefaultConfig(), nil); !errors.Is(err, ErrDatabaseRequired) {
		t.Errorf("expected ErrDatabaseRequired, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{TokenTTL: -1}
	cfg.validate()
	if cfg.BaseURL != "http://localhost:2480" {
		t.Errorf("expected default base URL, got %q", cfg.BaseURL)
	}
	if cfg.TokenTTL != 5*time.Minute || cfg.Timeout != 30*time.Second {
		t.Errorf("expected default durations, got %v and %v", cfg.TokenTTL, cfg.Timeout)
	}
}

// --- Submit Tests ---

func TestSubmit_PostsScript(t *testing.T) {
	var got batch.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/batch/people" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("expected basic auth, got %q %q", user, pass)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[{"@rid":"#9:0","@class":"EmailAddress","@version":1},{"@rid":"#10:0","@class":"Contact","@version":1}]}`))
	}))
	defer srv.Close()
	tr := newTransport(t, srv, nil)

	b := &batch.Batch{}
	email := b.AddInsert("EmailAddress", []batch.Assignment{{Name: "address", Value: "a@b.c"}})
	b.AddInsert("Contact", []batch.Assignment{{Name: "out_emails", Value: []any{email}}})

	results, err := tr.Submit(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[1].RID() != "#10:0" {
		t.Fatalf("unexpected results %v", results)
	}
	if v, ok := results[0][record.KeyRID].(record.RID); !ok || v != "#9:0" {
		t.Errorf("expected @rid as record.RID, got %#v", results[0][record.KeyRID])
	}
	if results[0][record.KeyVersion] != int64(1) {
		t.Errorf("expected int64 version, got %#v", results[0][record.KeyVersion])
	}

	if !got.Transaction || len(got.Operations) != 1 {
		t.Fatalf("expected one transactional operation, got %+v", got)
	}
	script := got.Operations[0].Script
	want := []string{
		`LET r0 = INSERT INTO EmailAddress SET address = 'a@b.c'`,
		`LET r1 = INSERT INTO Contact SET out_emails = [$r0]`,
		`RETURN [$r0, $r1]`,
	}
	if strings.Join(script, "\n") != strings.Join(want, "\n") {
		t.Errorf("expected script\n%s\ngot\n%s", strings.Join(want, "\n"), strings.Join(script, "\n"))
	}
}

func TestSubmit_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, record.ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"conflict", http.StatusConflict, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()
			tr := newTransport(t, srv, nil)

			b := &batch.Batch{}
			b.AddDelete("Contact", "#9:1")
			_, err := tr.Submit(context.Background(), b)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.Code != tt.status {
				t.Errorf("expected StatusError %d, got %v", tt.status, err)
			}
		})
	}
}

func TestSubmit_ServerErrorIsOpaque(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	tr := newTransport(t, srv, nil)

	b := &batch.Batch{}
	b.AddInsert("Contact", nil)
	_, err := tr.Submit(context.Background(), b)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Body != "boom" {
		t.Errorf("expected StatusError with body, got %v", err)
	}
	if errors.Is(err, record.ErrNotFound) {
		t.Error("expected 500 not to map to ErrNotFound")
	}
}

// --- Auth Tests ---

func TestBearerToken(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()
	tr := newTransport(t, srv, func(c *Config) {
		c.TokenSecret = "shh"
		c.TokenTTL = time.Minute
	})
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return issued }

	if _, err := tr.Submit(context.Background(), &batch.Batch{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		t.Fatalf("expected bearer token, got %q", header)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("shh"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("expected subject admin, got %q", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "people" {
		t.Errorf("expected audience people, got %v", claims.Audience)
	}
	if !claims.ExpiresAt.Time.Equal(issued.Add(time.Minute)) {
		t.Errorf("expected expiry %v, got %v", issued.Add(time.Minute), claims.ExpiresAt.Time)
	}
}

func TestCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if !newTransport(t, srv, nil).SupportsAtomicBatch() {
		t.Error("expected scripting enabled by default")
	}
	if newTransport(t, srv, func(c *Config) { c.NoScripting = true }).SupportsAtomicBatch() {
		t.Error("expected no atomic batches without scripting")
	}

	tr, err := New(Config{BaseURL: srv.URL, Database: "people"}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.SupportsAtomicBatch() {
		t.Error("expected a literal config to support atomic batches")
	}
}

// --- Load Tests ---

func TestLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/document/people/9:4" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"@rid":"#9:4","@class":"Contact","@version":3,"name":"Sydney","age":34}`))
	}))
	defer srv.Close()
	tr := newTransport(t, srv, nil)
	ctx := context.Background()

	doc, err := tr.Load(ctx, "Contact", "#9:4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["name"] != "Sydney" || doc[record.KeyVersion] != int64(3) || doc.RID() != "#9:4" {
		t.Errorf("unexpected document %v", doc)
	}

	if _, err := tr.Load(ctx, "EmailAddress", "#9:4"); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong class, got %v", err)
	}
	if _, err := tr.Load(ctx, "Contact", "#9:5"); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound for 404, got %v", err)
	}
}
