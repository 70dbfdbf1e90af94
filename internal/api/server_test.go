package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/endpoint"
	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/internal/operation"
	"ConnectorHub/internal/workflow"
)

type stubOperations struct {
	startState operation.State
	startErr   error
	pollState  operation.State
	pollErr    error
	lastReq    operation.Request
}

func (s *stubOperations) Start(_ context.Context, req operation.Request) (operation.State, error) {
	s.lastReq = req
	return s.startState, s.startErr
}

func (s *stubOperations) Poll(context.Context, string) (operation.State, error) {
	return s.pollState, s.pollErr
}

func TestStartOperationReturnsState(t *testing.T) {
	stub := &stubOperations{
		startState: operation.State{
			OperationID: "op-1",
			Kind:        "metadata.run",
			Status:      operation.StatusQueued,
		},
	}
	server := NewServer(":0", stub, endpoint.NewMemoryRepository())

	body := strings.NewReader(`{"endpoint_id":"ep-1","kind":"metadata.run"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got operation.State
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.OperationID != "op-1" || got.Status != operation.StatusQueued {
		t.Fatalf("unexpected state: %+v", got)
	}
	if stub.lastReq.EndpointID != "ep-1" {
		t.Fatalf("request not forwarded: %+v", stub.lastReq)
	}
}

// 门禁拒绝与连接器侧失败走 200，失败细节在状态载荷里。
func TestStartOperationDenialIsNotAnHTTPError(t *testing.T) {
	stub := &stubOperations{
		startState: operation.State{
			OperationID: "op-2",
			Kind:        "metadata.run",
			Status:      operation.StatusFailed,
			Error: &operation.ErrorDescriptor{
				Code:    operation.CodeCapabilityUnsupported,
				Message: "endpoint does not advertise capability metadata.run",
			},
		},
	}
	server := NewServer(":0", stub, endpoint.NewMemoryRepository())

	body := strings.NewReader(`{"endpoint_id":"ep-1","kind":"metadata.run"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("denial must not surface as HTTP error: got %d", rec.Code)
	}
	var got operation.State
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Error == nil || got.Error.Code != operation.CodeCapabilityUnsupported {
		t.Fatalf("unexpected error payload: %+v", got.Error)
	}
}

func TestStartOperationInfraErrorMapsToStatus(t *testing.T) {
	stub := &stubOperations{startErr: xerrors.New(xerrors.CodeInvalidArgument, "端点标识为空")}
	server := NewServer(":0", stub, endpoint.NewMemoryRepository())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPollOperationNotFound(t *testing.T) {
	stub := &stubOperations{pollErr: workflow.ErrOperationNotFound}
	server := NewServer(":0", stub, endpoint.NewMemoryRepository())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/operations/ghost", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestEndpointLifecycleOverHTTP(t *testing.T) {
	repo := endpoint.NewMemoryRepository()
	server := NewServer(":0", &stubOperations{}, repo)
	handler := server.Handler()

	create := httptest.NewRequest(http.MethodPost, "/api/v1/endpoints",
		strings.NewReader(`{"id":"ep-1","name":"orders","connector":"mysqlmeta","address":"user:pw@tcp(db:3306)/orders"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create endpoint: got %d, body %s", rec.Code, rec.Body.String())
	}

	get := httptest.NewRequest(http.MethodGet, "/api/v1/endpoints/ep-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Fatalf("get endpoint: got %d", rec.Code)
	}
	var got endpoint.Endpoint
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode endpoint: %v", err)
	}
	if got.Connector != "mysqlmeta" {
		t.Fatalf("unexpected endpoint: %+v", got)
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/endpoints/ep-1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, del)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete endpoint: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/endpoints/ep-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted endpoint should be gone: got %d", rec.Code)
	}
}

func TestProbeEndpointReportsConnectorFailureInline(t *testing.T) {
	server := NewServer(":0", &stubOperations{}, endpoint.NewMemoryRepository(),
		WithCapabilityProbe(func(context.Context, string) (capability.Result, error) {
			return capability.Result{}, connector.AuthInvalid("token rejected")
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/endpoints/ep-1/capabilities", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("connector failure must stay inside the probe result: got %d", rec.Code)
	}
	var got capability.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got.Err == nil || got.Err.Code != connector.CodeAuthInvalid {
		t.Fatalf("unexpected probe error: %+v", got.Err)
	}
}
