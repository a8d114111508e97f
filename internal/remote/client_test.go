package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// staticToken is a TokenProvider returning a fixed token.
type staticToken string

func (s staticToken) AccessToken() (string, error) { return string(s), nil }

// capture holds the last request the test server saw.
type capture struct {
	method string
	path   string
	query  map[string]string
	header http.Header
	body   []byte
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *capture) {
	t.Helper()

	seen := &capture{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.path = r.URL.Path
		seen.header = r.Header.Clone()

		seen.query = map[string]string{}
		for k, v := range r.URL.Query() {
			seen.query[k] = v[0]
		}

		seen.body, _ = io.ReadAll(r.Body)

		w.WriteHeader(status)
		w.Write([]byte(response))
	}))

	t.Cleanup(srv.Close)

	return srv, seen
}

func TestClient_Upsert(t *testing.T) {
	t.Parallel()

	srv, seen := newTestServer(t, http.StatusCreated, "")
	client := NewClient(srv.URL, "key123", srv.Client(), staticToken("tok456"), nil)

	err := client.Upsert(context.Background(), "foods", map[string]any{"id": "f1", "name": "Oats"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if seen.method != http.MethodPost || seen.path != "/foods" {
		t.Errorf("request = %s %s, want POST /foods", seen.method, seen.path)
	}

	if seen.query["on_conflict"] != "id" {
		t.Errorf("on_conflict = %q, want id", seen.query["on_conflict"])
	}

	if got := seen.header.Get("Prefer"); got != "resolution=merge-duplicates,return=minimal" {
		t.Errorf("Prefer = %q", got)
	}

	if got := seen.header.Get("apikey"); got != "key123" {
		t.Errorf("apikey = %q, want key123", got)
	}

	if got := seen.header.Get("Authorization"); got != "Bearer tok456" {
		t.Errorf("Authorization = %q, want Bearer tok456", got)
	}

	// Body must be an array even for a single row.
	var rows []map[string]any
	if err := json.Unmarshal(seen.body, &rows); err != nil {
		t.Fatalf("body is not a JSON array: %v (%s)", err, seen.body)
	}

	if len(rows) != 1 || rows[0]["id"] != "f1" {
		t.Errorf("body rows = %v, want the single row", rows)
	}
}

func TestClient_AnonymousSendsNoBearer(t *testing.T) {
	t.Parallel()

	srv, seen := newTestServer(t, http.StatusOK, "[]")
	client := NewClient(srv.URL, "key123", srv.Client(), staticToken(""), nil)

	if _, err := client.Select(context.Background(), SelectQuery{Table: "foods", DateField: "updated_at", Limit: 10}); err != nil {
		t.Fatalf("Select: %v", err)
	}

	if got := seen.header.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty for anonymous client", got)
	}
}

func TestClient_Select(t *testing.T) {
	t.Parallel()

	srv, seen := newTestServer(t, http.StatusOK,
		`[{"id":"f1","updated_at":"2026-03-01T10:00:00Z"},{"id":"f2","updated_at":"2026-03-01T11:00:00Z"}]`)
	client := NewClient(srv.URL, "key", srv.Client(), nil, nil)

	rows, err := client.Select(context.Background(), SelectQuery{
		Table:     "foods",
		DateField: "updated_at",
		After:     "2026-02-01T00:00:00Z",
		Limit:     100,
		Offset:    200,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if len(rows) != 2 || rows[0]["id"] != "f1" {
		t.Errorf("rows = %v, want 2 decoded rows", rows)
	}

	if seen.query["order"] != "updated_at.asc,id.asc" {
		t.Errorf("order = %q, want updated_at.asc,id.asc", seen.query["order"])
	}

	if seen.query["updated_at"] != "gt.2026-02-01T00:00:00Z" {
		t.Errorf("filter = %q, want gt.<watermark>", seen.query["updated_at"])
	}

	if seen.query["limit"] != "100" || seen.query["offset"] != "200" {
		t.Errorf("limit/offset = %s/%s, want 100/200", seen.query["limit"], seen.query["offset"])
	}
}

func TestClient_SelectWithoutWatermarkOmitsFilter(t *testing.T) {
	t.Parallel()

	srv, seen := newTestServer(t, http.StatusOK, "[]")
	client := NewClient(srv.URL, "key", srv.Client(), nil, nil)

	if _, err := client.Select(context.Background(), SelectQuery{Table: "foods", DateField: "updated_at", Limit: 10}); err != nil {
		t.Fatalf("Select: %v", err)
	}

	if _, ok := seen.query["updated_at"]; ok {
		t.Error("date filter sent despite empty watermark")
	}
}

func TestClient_DeleteByID(t *testing.T) {
	t.Parallel()

	srv, seen := newTestServer(t, http.StatusNoContent, "")
	client := NewClient(srv.URL, "key", srv.Client(), nil, nil)

	if err := client.DeleteByID(context.Background(), "daily_logs", "l1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}

	if seen.method != http.MethodDelete || seen.path != "/daily_logs" {
		t.Errorf("request = %s %s, want DELETE /daily_logs", seen.method, seen.path)
	}

	if seen.query["id"] != "eq.l1" {
		t.Errorf("id filter = %q, want eq.l1", seen.query["id"])
	}
}

func TestClient_ErrorEnvelopeDecoded(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusBadRequest,
		`{"code":"42703","message":"column \"fiber_target\" of relation \"foods\" does not exist"}`)
	client := NewClient(srv.URL, "key", srv.Client(), nil, nil)

	err := client.Upsert(context.Background(), "foods", map[string]any{"id": "f1"})
	if err == nil {
		t.Fatal("expected error")
	}

	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest sentinel", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}

	if apiErr.Code != "42703" {
		t.Errorf("Code = %q, want 42703", apiErr.Code)
	}

	if got := (SchemaClassifier{}).MissingColumn(err); got != "fiber_target" {
		t.Errorf("MissingColumn = %q, want fiber_target", got)
	}
}

func TestClient_NonJSONErrorBodyKeptVerbatim(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusBadGateway, "upstream fell over")
	client := NewClient(srv.URL, "key", srv.Client(), nil, nil)

	err := client.DeleteByID(context.Background(), "foods", "f1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}

	if apiErr.Message != "upstream fell over" {
		t.Errorf("Message = %q, want raw body", apiErr.Message)
	}

	if !IsTransient(err) {
		t.Error("502 should be transient")
	}
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore

	client := NewClient(srv.URL, "key", nil, nil, nil)

	err := client.Upsert(context.Background(), "foods", map[string]any{"id": "f1"})
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}

	if !IsTransient(err) {
		t.Error("network failures should be transient")
	}
}

func TestClient_CanceledContextIsNotNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(srv.URL, "key", nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Upsert(ctx, "foods", map[string]any{"id": "f1"})
	if err == nil {
		t.Fatal("expected error")
	}

	if errors.Is(err, ErrNetwork) {
		t.Errorf("err = %v, cancellation must not look like an outage", err)
	}
}
