// Package httpapi implements the connector for HTTP-based systems that
// expose a capability document under /.well-known/capabilities and an
// operation endpoint per operation kind.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/workflow"
)

const (
	connectorType   = "httpapi"
	capabilityPath  = "/.well-known/capabilities"
	operationPath   = "/operations/"
	maxErrorPayload = 64 << 10
)

// Config 描述 HTTP 连接器的行为参数。
type Config struct {
	Timeout time.Duration
}

// Connector 通过 HTTP 与端点交互。
type Connector struct {
	client *http.Client
}

// New 创建 HTTP 连接器。
func New(cfg Config) *Connector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Connector{client: &http.Client{Timeout: timeout}}
}

// Type 实现 connector.Connector 接口。
func (c *Connector) Type() string { return connectorType }

// capabilityDocument 是端点能力文档的线上形态。
type capabilityDocument struct {
	Capabilities        []string          `json:"capabilities"`
	SupportedOperations []string          `json:"supported_operations"`
	Constraints         map[string]string `json:"constraints"`
	Auth                *struct {
		Mode   string   `json:"mode"`
		Scopes []string `json:"scopes"`
	} `json:"auth"`
}

// Probe 拉取端点的能力文档。
func (c *Connector) Probe(ctx context.Context, target connector.Target) (capability.Result, error) {
	if target.Endpoint == nil {
		return capability.Result{}, connector.Unreachable(fmt.Errorf("未提供端点"))
	}
	url := strings.TrimRight(target.Endpoint.Address, "/") + capabilityPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return capability.Result{}, err
	}
	if err := c.authorize(ctx, req, target); err != nil {
		return capability.Result{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return capability.Result{}, connector.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capability.Result{}, c.statusToError(resp)
	}

	var doc capabilityDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorPayload)).Decode(&doc); err != nil {
		return capability.Result{}, connector.ExecutionFailed(fmt.Errorf("解析能力文档失败: %w", err))
	}

	result := capability.Result{
		Capabilities:        capability.SetFromStrings(doc.Capabilities),
		SupportedOperations: capability.SetFromStrings(doc.SupportedOperations),
		Constraints:         doc.Constraints,
	}
	if doc.Auth != nil {
		result.Auth = &capability.AuthDescriptor{
			Mode:   doc.Auth.Mode,
			Scopes: append([]string(nil), doc.Auth.Scopes...),
		}
	}
	return result, nil
}

// operationResponse 是操作执行响应的线上形态。
type operationResponse struct {
	Records int64          `json:"records"`
	Summary string         `json:"summary"`
	Output  map[string]any `json:"output"`
	Error   *struct {
		Code           string   `json:"code"`
		Message        string   `json:"message"`
		RequiredScopes []string `json:"required_scopes"`
	} `json:"error"`
}

// Execute 调用端点的操作接口。
func (c *Connector) Execute(ctx context.Context, target connector.Target, op *workflow.Operation) (*workflow.ExecutionResult, error) {
	if target.Endpoint == nil {
		return nil, connector.Unreachable(fmt.Errorf("未提供端点"))
	}
	url := strings.TrimRight(target.Endpoint.Address, "/") + operationPath + op.Kind

	body, err := json.Marshal(map[string]any{
		"operation_id": op.ID,
		"parameters":   op.Parameters,
	})
	if err != nil {
		return nil, connector.ExecutionFailed(fmt.Errorf("编码操作参数失败: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req, target); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, connector.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorPayload))
	if err != nil {
		return nil, connector.ClassifyTransport(err)
	}

	var parsed operationResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &parsed); err != nil && resp.StatusCode < 400 {
			return nil, connector.ExecutionFailed(fmt.Errorf("解析操作响应失败: %w", err))
		}
	}

	// 端点在响应体里上报的操作错误优先于 HTTP 状态码，
	// 错误码与所需范围逐字透传。
	if parsed.Error != nil {
		return nil, &connector.Error{
			Code:    parsed.Error.Code,
			Message: parsed.Error.Message,
			Scopes:  append([]string(nil), parsed.Error.RequiredScopes...),
			Retry:   transientCode(parsed.Error.Code),
		}
	}
	if resp.StatusCode >= 400 {
		return nil, c.statusToError(resp)
	}

	return &workflow.ExecutionResult{
		Records: parsed.Records,
		Summary: parsed.Summary,
		Output:  parsed.Output,
	}, nil
}

// Close 实现 connector.Connector 接口。
func (c *Connector) Close() error {
	if c != nil && c.client != nil {
		c.client.CloseIdleConnections()
	}
	return nil
}

// authorize 为请求附加 bearer 令牌，凭据交换失败按凭据无效处理。
func (c *Connector) authorize(ctx context.Context, req *http.Request, target connector.Target) error {
	if target.Tokens == nil {
		return nil
	}
	token, err := target.Tokens.Token(ctx)
	if err != nil {
		return connector.AuthInvalid(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// statusToError 将 HTTP 状态码归类为连接器错误。
func (c *Connector) statusToError(resp *http.Response) *connector.Error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return connector.AuthInvalid(fmt.Sprintf("端点拒绝凭据: %s", resp.Status))
	case http.StatusForbidden:
		return connector.ScopeMissing(fmt.Sprintf("端点拒绝访问: %s", resp.Status), nil)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return connector.Timeout(fmt.Errorf("端点响应超时: %s", resp.Status))
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return connector.Unreachable(fmt.Errorf("端点暂不可用: %s", resp.Status))
	default:
		return connector.ExecutionFailed(fmt.Errorf("端点返回错误状态: %s", resp.Status))
	}
}

func transientCode(code string) bool {
	switch code {
	case connector.CodeEndpointUnreachable, connector.CodeTimeout:
		return true
	default:
		return false
	}
}

var _ connector.Connector = (*Connector)(nil)
