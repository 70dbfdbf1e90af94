package operation

import (
	"context"
	"regexp"
	"sync/atomic"
	"testing"

	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/internal/template"
	"ConnectorHub/internal/workflow"
)

type fakeProber struct {
	result capability.Result
	err    error
	calls  atomic.Int64
}

func (f *fakeProber) Probe(context.Context, string) (capability.Result, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeBackend struct {
	submitCalls atomic.Int64
	submitted   workflow.SubmitRequest
	submitRaw   workflow.RawState
	submitErr   error
	stateRaw    workflow.RawState
	stateErr    error
}

func (f *fakeBackend) Submit(_ context.Context, req workflow.SubmitRequest) (workflow.RawState, error) {
	f.submitCalls.Add(1)
	f.submitted = req
	if f.submitErr != nil {
		return workflow.RawState{}, f.submitErr
	}
	raw := f.submitRaw
	if raw.OperationID == "" {
		raw.OperationID = req.ID
	}
	if raw.Kind == "" {
		raw.Kind = req.Kind
	}
	if raw.Status == "" {
		raw.Status = string(workflow.StatusPending)
	}
	return raw, nil
}

func (f *fakeBackend) State(context.Context, string) (workflow.RawState, error) {
	return f.stateRaw, f.stateErr
}

func allowAll() capability.Result {
	set := capability.NewSet(capability.TestConnection, capability.MetadataRun)
	return capability.Result{Capabilities: set.Clone(), SupportedOperations: set}
}

func newController(t *testing.T, prober CapabilityProber, backend Backend) *Controller {
	t.Helper()
	ctrl, err := NewController(prober, backend, nil)
	if err != nil {
		t.Fatalf("构造控制器失败: %v", err)
	}
	return ctrl
}

func TestStartSubmitsAllowedOperation(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := newController(t, &fakeProber{result: allowAll()}, backend)

	state, err := ctrl.Start(context.Background(), Request{
		EndpointID: "ep-1",
		Kind:       "metadata.run",
		Parameters: map[string]any{"depth": 1},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if state.Status != StatusQueued {
		t.Fatalf("新提交的操作应为排队态, got %s", state.Status)
	}
	if backend.submitCalls.Load() != 1 {
		t.Fatalf("应提交一次后端, got %d", backend.submitCalls.Load())
	}
	if backend.submitted.ID != state.OperationID || state.OperationID == "" {
		t.Fatalf("操作标识应由控制器生成并透传: %q vs %q", backend.submitted.ID, state.OperationID)
	}
}

func TestStartDeniedByGateNeverReachesBackend(t *testing.T) {
	set := capability.NewSet(capability.TestConnection)
	backend := &fakeBackend{}
	ctrl := newController(t, &fakeProber{result: capability.Result{
		Capabilities:        set.Clone(),
		SupportedOperations: set,
	}}, backend)

	state, err := ctrl.Start(context.Background(), Request{EndpointID: "ep-1", Kind: "metadata.run"})
	if err != nil {
		t.Fatalf("门禁拒绝不应返回基础设施错误: %v", err)
	}
	if !state.Failed() || state.Error == nil || state.Error.Code != CodeCapabilityUnsupported {
		t.Fatalf("拒绝应折叠为能力不支持的失败态: %+v", state)
	}
	if state.Error.Retryable {
		t.Fatal("门禁拒绝不可重试")
	}
	if !regexp.MustCompile(`(?i)capability`).MatchString(state.Error.Message) {
		t.Fatalf("拒绝消息应提及 capability: %q", state.Error.Message)
	}
	if !regexp.MustCompile(`metadata\.run`).MatchString(state.Error.Message) {
		t.Fatalf("拒绝消息应点名缺失令牌: %q", state.Error.Message)
	}
	if state.OperationID == "" {
		t.Fatal("合成失败态也应携带操作标识")
	}
	if backend.submitCalls.Load() != 0 {
		t.Fatalf("被拒绝的操作不应触达后端, got %d 次提交", backend.submitCalls.Load())
	}
}

func TestStartProbeConnectorErrorBecomesFailedState(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := newController(t, &fakeProber{err: connector.AuthInvalid("token rejected")}, backend)

	state, err := ctrl.Start(context.Background(), Request{EndpointID: "ep-1", Kind: "metadata.run"})
	if err != nil {
		t.Fatalf("连接器侧失败不应返回基础设施错误: %v", err)
	}
	if !state.Failed() || state.Error == nil || state.Error.Code != connector.CodeAuthInvalid {
		t.Fatalf("探测失败应折叠为失败态: %+v", state)
	}
	if backend.submitCalls.Load() != 0 {
		t.Fatal("探测失败的操作不应触达后端")
	}
}

func TestStartProbeReportedFailure(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := newController(t, &fakeProber{result: capability.Result{
		Err: &capability.ProbeError{Code: connector.CodeEndpointUnreachable, Message: "connection refused"},
	}}, backend)

	state, err := ctrl.Start(context.Background(), Request{EndpointID: "ep-1", Kind: "metadata.run"})
	if err != nil {
		t.Fatalf("探测结果内的失败不应返回基础设施错误: %v", err)
	}
	if state.Error == nil || state.Error.Code != connector.CodeEndpointUnreachable {
		t.Fatalf("失败态应转写探测错误: %+v", state)
	}
	if !state.Error.Retryable {
		t.Fatal("端点不可达应标记为可重试")
	}
}

func TestStartProbeInfraErrorPropagates(t *testing.T) {
	ctrl := newController(t, &fakeProber{err: xerrors.New(xerrors.CodeStorageFailure, "仓储故障")}, &fakeBackend{})

	_, err := ctrl.Start(context.Background(), Request{EndpointID: "ep-1", Kind: "metadata.run"})
	if err == nil {
		t.Fatal("基础设施故障应以 error 返回")
	}
	if xerrors.CodeOf(err) != xerrors.CodeProbeFailure {
		t.Fatalf("错误码异常: %v", xerrors.CodeOf(err))
	}
}

func TestStartValidatesRequest(t *testing.T) {
	ctrl := newController(t, &fakeProber{result: allowAll()}, &fakeBackend{})

	if _, err := ctrl.Start(context.Background(), Request{Kind: "metadata.run"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("缺失端点应拒绝: %v", err)
	}
	if _, err := ctrl.Start(context.Background(), Request{EndpointID: "ep-1"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("缺失操作类型应拒绝: %v", err)
	}
}

func TestStartResolvesTemplate(t *testing.T) {
	registry, err := template.NewRegistry(template.Definitions{
		Templates: map[string]template.Definition{
			"mysql-metadata": {
				Name:      "MySQL 元数据采集",
				Connector: "mysqlmeta",
				Parameters: []template.ParameterSpec{
					{Name: "schema", Required: true},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("构造模板注册表失败: %v", err)
	}
	ctrl, err := NewController(&fakeProber{result: allowAll()}, &fakeBackend{}, registry)
	if err != nil {
		t.Fatalf("构造控制器失败: %v", err)
	}

	_, err = ctrl.Start(context.Background(), Request{
		EndpointID: "ep-1",
		TemplateID: "ghost",
		Kind:       "metadata.run",
	})
	if xerrors.CodeOf(err) != xerrors.CodeTemplateNotFound {
		t.Fatalf("未知模板应拒绝: %v", err)
	}

	_, err = ctrl.Start(context.Background(), Request{
		EndpointID: "ep-1",
		TemplateID: "mysql-metadata",
		Kind:       "metadata.run",
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("缺失必填参数应拒绝: %v", err)
	}

	state, err := ctrl.Start(context.Background(), Request{
		EndpointID: "ep-1",
		TemplateID: "mysql-metadata",
		Kind:       "metadata.run",
		Parameters: map[string]any{"schema": "orders"},
	})
	if err != nil {
		t.Fatalf("合法请求应放行: %v", err)
	}
	if state.Status != StatusQueued {
		t.Fatalf("状态异常: %s", state.Status)
	}
}

func TestPollMapsBackendState(t *testing.T) {
	backend := &fakeBackend{
		stateRaw: workflow.RawState{
			OperationID: "op-1",
			Kind:        "metadata.run",
			Status:      "failed",
			Attempts:    3,
			Error: &workflow.RawError{
				Code:           connector.CodeScopeMissing,
				Message:        "missing grants",
				RequiredScopes: []string{"metadata:read"},
			},
		},
	}
	ctrl := newController(t, &fakeProber{result: allowAll()}, backend)

	state, err := ctrl.Poll(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if state.Status != StatusFailed || state.Error == nil {
		t.Fatalf("状态异常: %+v", state)
	}
	if state.Error.Retryable {
		t.Fatal("范围缺失不可重试")
	}
	if len(state.Error.RequiredScopes) != 1 || state.Error.RequiredScopes[0] != "metadata:read" {
		t.Fatalf("范围应逐字透传: %v", state.Error.RequiredScopes)
	}
}

type sequencedBackend struct {
	fakeBackend
	states []workflow.RawState
	cursor int
}

func (s *sequencedBackend) State(context.Context, string) (workflow.RawState, error) {
	if s.cursor >= len(s.states) {
		return workflow.RawState{}, workflow.ErrOperationNotFound
	}
	raw := s.states[s.cursor]
	s.cursor++
	return raw, nil
}

func TestPollReflectsBackendOrder(t *testing.T) {
	backend := &sequencedBackend{states: []workflow.RawState{
		{OperationID: "op-9", Kind: "metadata.run", Status: "running"},
		{OperationID: "op-9", Kind: "metadata.run", Status: "succeeded"},
	}}
	ctrl := newController(t, &fakeProber{result: allowAll()}, backend)

	first, err := ctrl.Poll(context.Background(), "op-9")
	if err != nil {
		t.Fatalf("首次查询失败: %v", err)
	}
	if first.Status != StatusRunning {
		t.Fatalf("首次查询应为运行态, got %s", first.Status)
	}
	second, err := ctrl.Poll(context.Background(), "op-9")
	if err != nil {
		t.Fatalf("二次查询失败: %v", err)
	}
	if second.Status != StatusSucceeded {
		t.Fatalf("二次查询应为成功态, got %s", second.Status)
	}
}

func TestPollUnknownOperationPropagates(t *testing.T) {
	backend := &fakeBackend{stateErr: workflow.ErrOperationNotFound}
	ctrl := newController(t, &fakeProber{result: allowAll()}, backend)

	if _, err := ctrl.Poll(context.Background(), "ghost"); err == nil {
		t.Fatal("未知操作应返回基础设施错误")
	}
}

func TestStartSyncTerminalState(t *testing.T) {
	backend := &fakeBackend{
		submitRaw: workflow.RawState{Status: "succeeded", Result: map[string]any{"records": int64(1)}},
	}
	ctrl := newController(t, &fakeProber{result: allowAll()}, backend)

	state, err := ctrl.Start(context.Background(), Request{EndpointID: "ep-1", Kind: "endpoint.test_connection"})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if state.Status != StatusSucceeded {
		t.Fatalf("同步快路径应直接返回终态, got %s", state.Status)
	}
}
