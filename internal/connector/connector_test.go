package connector

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"testing"
	"time"

	"ConnectorHub/internal/auth"
	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/endpoint"
	"ConnectorHub/internal/workflow"
)

type fakeConnector struct {
	kind        string
	probeResult capability.Result
	probeErr    error
	execResult  *workflow.ExecutionResult
	execErr     error
	lastTarget  Target
}

func (f *fakeConnector) Type() string { return f.kind }

func (f *fakeConnector) Probe(_ context.Context, target Target) (capability.Result, error) {
	f.lastTarget = target
	return f.probeResult, f.probeErr
}

func (f *fakeConnector) Execute(_ context.Context, target Target, _ *workflow.Operation) (*workflow.ExecutionResult, error) {
	f.lastTarget = target
	return f.execResult, f.execErr
}

func (f *fakeConnector) Close() error { return nil }

func newRepoWithEndpoint(t *testing.T, credentialID string) endpoint.Repository {
	t.Helper()
	repo := endpoint.NewMemoryRepository()
	ep := &endpoint.Endpoint{
		ID:           "ep-1",
		Connector:    "fake",
		Address:      "https://api.example.com",
		CredentialID: credentialID,
	}
	if err := repo.Create(context.Background(), ep); err != nil {
		t.Fatalf("创建端点失败: %v", err)
	}
	return repo
}

func TestRegistryLookup(t *testing.T) {
	fake := &fakeConnector{kind: "Fake"}
	registry, err := NewRegistry(fake)
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	if _, ok := registry.Connector("fake"); !ok {
		t.Fatal("连接器类型应不区分大小写")
	}
	if _, ok := registry.Connector("missing"); ok {
		t.Fatal("未注册的类型不应命中")
	}
	types := registry.Types()
	if len(types) != 1 || types[0] != "fake" {
		t.Fatalf("类型列表异常: %v", types)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(&fakeConnector{kind: "fake"}, &fakeConnector{kind: "FAKE"}); err == nil {
		t.Fatal("重复类型应报错")
	}
}

func TestProberResolvesCredential(t *testing.T) {
	fake := &fakeConnector{
		kind:        "fake",
		probeResult: capability.Result{SupportedOperations: capability.NewSet(capability.MetadataRun)},
	}
	registry, err := NewRegistry(fake)
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	creds := auth.NewMemoryCredentialStore()
	if err := creds.Put(context.Background(), &auth.Credential{
		ID:    "cred-1",
		Kind:  auth.CredentialBearer,
		Token: "tok",
	}); err != nil {
		t.Fatalf("写入凭据失败: %v", err)
	}

	prober := NewProber(registry, newRepoWithEndpoint(t, "cred-1"), creds, time.Second)
	result, err := prober.Probe(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("探测失败: %v", err)
	}
	if !result.SupportedOperations.Has(capability.MetadataRun) {
		t.Fatal("探测结果应透传连接器返回")
	}
	if fake.lastTarget.Tokens == nil {
		t.Fatal("应为连接器解析出令牌源")
	}
	token, err := fake.lastTarget.Tokens.Token(context.Background())
	if err != nil || token != "tok" {
		t.Fatalf("令牌源异常: %q %v", token, err)
	}
}

func TestProberMissingCredentialBecomesAuthError(t *testing.T) {
	registry, err := NewRegistry(&fakeConnector{kind: "fake"})
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	prober := NewProber(registry, newRepoWithEndpoint(t, "ghost"), auth.NewMemoryCredentialStore(), time.Second)

	_, err = prober.Probe(context.Background(), "ep-1")
	var connErr *Error
	if !stdErrors.As(err, &connErr) {
		t.Fatalf("缺失凭据应返回连接器错误, got %v", err)
	}
	if connErr.Code != CodeAuthInvalid {
		t.Fatalf("错误码异常: %q", connErr.Code)
	}
}

func TestProberUnknownEndpoint(t *testing.T) {
	registry, err := NewRegistry(&fakeConnector{kind: "fake"})
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	prober := NewProber(registry, endpoint.NewMemoryRepository(), nil, time.Second)
	if _, err := prober.Probe(context.Background(), "ghost"); !stdErrors.Is(err, endpoint.ErrEndpointNotFound) {
		t.Fatalf("未知端点应返回 not found, got %v", err)
	}
}

func TestExecutorDispatchesToConnector(t *testing.T) {
	fake := &fakeConnector{
		kind:       "fake",
		execResult: &workflow.ExecutionResult{Records: 7, Summary: "ok"},
	}
	registry, err := NewRegistry(fake)
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	executor := NewExecutor(registry, newRepoWithEndpoint(t, ""), nil, time.Second)

	op := &workflow.Operation{ID: "op-1", EndpointID: "ep-1", Kind: "metadata.run"}
	result, err := executor.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if result.Records != 7 {
		t.Fatalf("结果异常: %+v", result)
	}
}

func TestExecutorDeletedEndpointBecomesUnreachable(t *testing.T) {
	registry, err := NewRegistry(&fakeConnector{kind: "fake"})
	if err != nil {
		t.Fatalf("构造注册表失败: %v", err)
	}
	executor := NewExecutor(registry, endpoint.NewMemoryRepository(), nil, time.Second)

	op := &workflow.Operation{ID: "op-1", EndpointID: "gone", Kind: "metadata.run"}
	_, err = executor.Execute(context.Background(), op)
	var connErr *Error
	if !stdErrors.As(err, &connErr) {
		t.Fatalf("被删除的端点应返回连接器错误, got %v", err)
	}
	if connErr.Code != CodeEndpointUnreachable {
		t.Fatalf("错误码异常: %q", connErr.Code)
	}
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyTransport(t *testing.T) {
	if got := ClassifyTransport(context.DeadlineExceeded); got.Code != CodeTimeout {
		t.Fatalf("deadline 应归类为超时, got %q", got.Code)
	}
	var netErr net.Error = timeoutNetError{}
	if got := ClassifyTransport(netErr); got.Code != CodeTimeout {
		t.Fatalf("网络超时应归类为超时, got %q", got.Code)
	}
	if got := ClassifyTransport(fmt.Errorf("connection refused")); got.Code != CodeEndpointUnreachable {
		t.Fatalf("普通网络故障应归类为不可达, got %q", got.Code)
	}
	already := ScopeMissing("missing", []string{"a"})
	if got := ClassifyTransport(fmt.Errorf("wrapped: %w", already)); got.Code != CodeScopeMissing {
		t.Fatalf("已是连接器错误应原样返回, got %q", got.Code)
	}
	if ClassifyTransport(nil) != nil {
		t.Fatal("nil 错误应返回 nil")
	}
}
