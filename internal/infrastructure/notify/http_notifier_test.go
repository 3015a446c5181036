package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newNotifier(t *testing.T, handler http.HandlerFunc) *HTTPNotifier {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n, err := NewHTTPNotifier(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPNotifier() error = %v", err)
	}
	return n
}

func TestSendDeliversPayload(t *testing.T) {
	var got sendRequest
	n := newNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("path = %s, want /send", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":1}`))
	})

	if err := n.Send(context.Background(), "bob", "Defect D20260307-0001 sent back", "please rework"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Recipient != "bob" || got.Title == "" || got.Body != "please rework" {
		t.Fatalf("request = %+v", got)
	}
}

func TestSendErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "refused by collaborator",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"code":0,"message":"unknown recipient"}`))
			},
		},
		{
			name: "http failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		},
		{
			name: "garbage response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := newNotifier(t, tc.handler)
			if err := n.Send(context.Background(), "bob", "t", "b"); err == nil {
				t.Fatal("Send() error = nil")
			}
		})
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	n := newNotifier(t, func(http.ResponseWriter, *http.Request) {
		t.Error("server should never be reached")
	})
	if err := n.Send(context.Background(), "  ", "t", "b"); err == nil {
		t.Fatal("Send(blank recipient) error = nil")
	}
}

func TestNewHTTPNotifierRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPNotifier(Config{}); err == nil {
		t.Fatal("NewHTTPNotifier(empty) error = nil")
	}
}
