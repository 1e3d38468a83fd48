package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/config"
)

func newTestClient(baseURL string) *Client {
	return New(config.ControllerConfig{
		BaseURL:       baseURL,
		Timeout:       2,
		RetryAttempts: 2,
		RetryDelay:    1,
	})
}

func TestReadProperty(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json string envelope", `{"data": "1"}`, "1"},
		{"json number envelope", `{"data": 21.5}`, "21.5"},
		{"plain text body", "1\n", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/data/Relay01.status" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := newTestClient(srv.URL).ReadProperty(context.Background(), "Relay01", "status")
			if err != nil {
				t.Fatalf("ReadProperty: %v", err)
			}
			if got != tt.want {
				t.Errorf("value = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteProperty(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody.Store(string(buf[:n]))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).WriteProperty(context.Background(), "Relay01", "status", "1")
	if err != nil {
		t.Fatalf("WriteProperty: %v", err)
	}
	if body := gotBody.Load().(string); body != `{"data":"1"}` {
		t.Errorf("body = %s, want {\"data\":\"1\"}", body)
	}
}

func TestRejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ReadProperty(context.Background(), "Nope", "status")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not be retried)", calls.Load())
	}
}

func TestTransientRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			// Simulate a transient failure by hijacking and dropping.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"data": "ok"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).ReadProperty(context.Background(), "Relay01", "status")
	if err != nil {
		t.Fatalf("ReadProperty after retries: %v", err)
	}
	if got != "ok" {
		t.Errorf("value = %q, want ok", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestUnreachable(t *testing.T) {
	// Point at a closed port.
	client := newTestClient("http://127.0.0.1:1")

	_, err := client.ReadProperty(context.Background(), "Relay01", "status")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestRunScriptEscapesName(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.EscapedPath())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).RunScript(context.Background(), "утро в доме"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if p := gotPath.Load().(string); p == "/api/script/утро в доме" {
		t.Errorf("script name was not escaped: %s", p)
	}
}

func TestSay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/method/Speaker01.say" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("text") != "свет включён" {
			t.Errorf("text = %q", r.URL.Query().Get("text"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Say(context.Background(), "Speaker01", "свет включён"); err != nil {
		t.Fatalf("Say: %v", err)
	}
}
