package connectorhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStartOperationSendsToken(t *testing.T) {
	started := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/operations" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req OperationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Kind != "metadata.run" {
			t.Fatalf("unexpected kind: %q", req.Kind)
		}
		started = true
		_ = json.NewEncoder(w).Encode(OperationState{
			OperationID: "op-1",
			Kind:        req.Kind,
			Status:      StatusQueued,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("token")

	state, err := client.StartOperation(context.Background(), OperationRequest{
		EndpointID: "ep-1",
		Kind:       "metadata.run",
	})
	if err != nil {
		t.Fatalf("start operation: %v", err)
	}
	if !started {
		t.Fatal("server never saw the request")
	}
	if state.OperationID != "op-1" || state.Status != StatusQueued {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestStartOperationSurfacesDenialInState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(OperationState{
			OperationID: "op-2",
			Status:      StatusFailed,
			Error: &OperationError{
				Code:    "E_CAPABILITY_UNSUPPORTED",
				Message: "endpoint does not advertise capability metadata.run",
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	state, err := client.StartOperation(context.Background(), OperationRequest{
		EndpointID: "ep-1",
		Kind:       "metadata.run",
	})
	if err != nil {
		t.Fatalf("denial must not be a client error: %v", err)
	}
	if state.Error == nil || state.Error.Code != "E_CAPABILITY_UNSUPPORTED" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestWaitOperationPollsUntilTerminal(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/operations/op-3" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		polls++
		status := StatusRunning
		if polls >= 3 {
			status = StatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(OperationState{OperationID: "op-3", Status: status})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	state, err := client.WaitOperation(context.Background(), "op-3", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait operation: %v", err)
	}
	if state.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s", state.Status)
	}
	if polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "NOT_FOUND",
			"message": "operation not found",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetOperation(context.Background(), "ghost")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
