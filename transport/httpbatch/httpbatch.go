// Package httpbatch submits batches as transactional SQL scripts to an
// OrientDB-style REST endpoint and loads records through its document API.
package httpbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/record"
)

var (
	// ErrDatabaseRequired is returned when Config.Database is empty.
	ErrDatabaseRequired = errors.New("lattice: database is required")

	// ErrUnauthorized is returned when the server rejects the credentials.
	ErrUnauthorized = errors.New("lattice: unauthorized")

	// ErrConflict is returned when the server reports a concurrent modification.
	ErrConflict = errors.New("lattice: conflicting modification")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Unwrap maps well-known status codes to sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return record.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

// Transport implements batch.Transport, batch.AtomicScripter and batch.Finder
// over HTTP.
type Transport struct {
	client *http.Client
	config Config
	now    func() time.Time
}

// New creates a Transport. A nil client gets one with Config.Timeout.
func New(cfg Config, client *http.Client) (*Transport, error) {
	cfg.validate()
	if cfg.Database == "" {
		return nil, ErrDatabaseRequired
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Transport{client: client, config: cfg, now: time.Now}, nil
}

// SupportsAtomicBatch implements batch.AtomicScripter.
func (t *Transport) SupportsAtomicBatch() bool {
	return !t.config.NoScripting
}

type batchResponse struct {
	Result []record.Document `json:"result"`
}

// Submit implements batch.Transport.
func (t *Transport) Submit(ctx context.Context, b *batch.Batch) ([]record.Document, error) {
	body, err := json.Marshal(batch.NewRequest(b))
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	endpoint := t.config.BaseURL + "/batch/" + url.PathEscape(t.config.Database)

	var resp batchResponse
	if err := t.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	for _, doc := range resp.Result {
		normalize(doc)
	}
	return resp.Result, nil
}

// Load implements batch.Finder.
func (t *Transport) Load(ctx context.Context, class string, rid record.RID) (record.Document, error) {
	endpoint := t.config.BaseURL + "/document/" + url.PathEscape(t.config.Database) +
		"/" + url.PathEscape(strings.TrimPrefix(rid.String(), "#"))

	var doc record.Document
	if err := t.do(ctx, http.MethodGet, endpoint, nil, &doc); err != nil {
		return nil, err
	}
	if doc == nil || (class != "" && doc.Class() != class) {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	normalize(doc)
	return doc, nil
}

func (t *Transport) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := t.authorize(req); err != nil {
		return err
	}

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (t *Transport) authorize(req *http.Request) error {
	if t.config.TokenSecret == "" {
		if t.config.Username != "" {
			req.SetBasicAuth(t.config.Username, t.config.Password)
		}
		return nil
	}
	token, err := t.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Token issues a signed bearer token for the configured user.
func (t *Transport) Token() (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   t.config.Username,
		Audience:  jwt.ClaimStrings{t.config.Database},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.config.TokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.config.TokenSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// normalize converts JSON-decoded store attributes into their Go types.
func normalize(doc record.Document) {
	if rid, ok := doc[record.KeyRID].(string); ok {
		doc[record.KeyRID] = record.RID(rid)
	}
	if v, ok := doc[record.KeyVersion].(float64); ok {
		doc[record.KeyVersion] = int64(v)
	}
}
