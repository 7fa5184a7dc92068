package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cli
}

func TestCreateScratch(t *testing.T) {
	cli := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/scratches" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var input CreateScratchInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode input: %v", err)
		}
		if input.Branch != "feature/x" {
			t.Errorf("unexpected branch %q", input.Branch)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Scratch{Name: "feature-x", Branch: input.Branch})
	})

	created, err := cli.CreateScratch(context.Background(), CreateScratchInput{Branch: "feature/x"})
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	if created.Name != "feature-x" {
		t.Fatalf("unexpected scratch %+v", created)
	}
}

func TestListScratches(t *testing.T) {
	cli := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ScratchStatus{{Name: "demo", Status: "running"}})
	})

	statuses, err := cli.ListScratches(context.Background())
	if err != nil {
		t.Fatalf("ListScratches: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "demo" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
}

func TestErrorResponsesSurfaceAsAPIError(t *testing.T) {
	cli := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"scratch \"ghost\": not found"}`))
	})

	_, err := cli.GetScratch(context.Background(), "ghost")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Fatalf("unexpected status %d", apiErr.Status)
	}
}

func TestScratchLogs(t *testing.T) {
	cli := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scratches/demo/logs/web" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("tail") != "50" {
			t.Errorf("unexpected tail %q", r.URL.Query().Get("tail"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"lines": []string{"a", "b"}})
	})

	lines, err := cli.ScratchLogs(context.Background(), "demo", "web", 50)
	if err != nil {
		t.Fatalf("ScratchLogs: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestProxyConfig(t *testing.T) {
	cli := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proxy/config" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# rendered"))
	})

	content, err := cli.ProxyConfig(context.Background())
	if err != nil {
		t.Fatalf("ProxyConfig: %v", err)
	}
	if content != "# rendered" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestNewDefaultsAndValidation(t *testing.T) {
	cli, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cli.baseURL != "http://localhost:3456" {
		t.Fatalf("unexpected default base %q", cli.baseURL)
	}

	cli, err = New("example.com:3456")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cli.baseURL != "http://example.com:3456" {
		t.Fatalf("scheme not defaulted: %q", cli.baseURL)
	}
}
