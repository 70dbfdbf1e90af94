package operation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/internal/observability/metrics"
	"ConnectorHub/internal/template"
	"ConnectorHub/internal/workflow"
	"ConnectorHub/pkg/logger"
)

// CapabilityProber 抽象实时能力探测。生产实现见 internal/connector.Prober。
type CapabilityProber interface {
	Probe(ctx context.Context, endpointID string) (capability.Result, error)
}

// Backend 抽象异步执行后端。生产实现见 internal/workflow.Engine。
type Backend interface {
	Submit(ctx context.Context, req workflow.SubmitRequest) (workflow.RawState, error)
	State(ctx context.Context, id string) (workflow.RawState, error)
}

// Controller 编排单次操作的完整生命周期：校验、探测、门禁、提交与
// 状态归一化。基础设施故障以 error 返回，连接器侧与门禁侧的失败
// 折叠进返回的失败态快照。
type Controller struct {
	prober    CapabilityProber
	backend   Backend
	templates *template.Registry
	log       *slog.Logger
	audit     *slog.Logger
}

// Option 配置控制器的可选行为。
type Option func(*Controller)

// WithLogger 覆盖控制器的诊断日志器。
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithAuditLogger 覆盖控制器的审计日志器。
func WithAuditLogger(audit *slog.Logger) Option {
	return func(c *Controller) {
		if audit != nil {
			c.audit = audit
		}
	}
}

// NewController 创建操作生命周期控制器。templates 可以为 nil，
// 此时跳过模板解析与参数校验。
func NewController(prober CapabilityProber, backend Backend, templates *template.Registry, opts ...Option) (*Controller, error) {
	if prober == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供能力探测器")
	}
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供执行后端")
	}
	ctrl := &Controller{
		prober:    prober,
		backend:   backend,
		templates: templates,
		log:       logger.Named("operation"),
		audit:     logger.Audit(),
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl, nil
}

// Start 启动一次操作。成功提交时返回 QUEUED 或已终结的规范状态；
// 探测失败与门禁拒绝不触达后端，直接返回合成的失败态。
func (c *Controller) Start(ctx context.Context, req Request) (State, error) {
	if err := validateRequest(req); err != nil {
		return State{}, err
	}

	if c.templates != nil && req.TemplateID != "" {
		if _, err := c.templates.Resolve(req.TemplateID); err != nil {
			return State{}, err
		}
		if err := c.templates.ValidateParameters(req.TemplateID, req.Parameters); err != nil {
			return State{}, err
		}
	}

	result, err := c.prober.Probe(ctx, req.EndpointID)
	if err != nil {
		var connErr *connector.Error
		if stdErrors.As(err, &connErr) {
			return c.failBeforeSubmit(req, connErr), nil
		}
		return State{}, xerrors.Wrap(xerrors.CodeProbeFailure, err,
			fmt.Sprintf("探测端点 %s 失败", req.EndpointID))
	}
	if result.Failed() {
		probeErr := &connector.Error{Code: result.Err.Code, Message: result.Err.Message}
		return c.failBeforeSubmit(req, probeErr), nil
	}

	if decision := Decide(result, req.Kind); !decision.Allowed {
		return c.denyOperation(req, decision), nil
	}

	operationID := uuid.NewString()
	raw, err := c.backend.Submit(ctx, workflow.SubmitRequest{
		ID:         operationID,
		EndpointID: req.EndpointID,
		TemplateID: req.TemplateID,
		Kind:       req.Kind,
		Parameters: req.Parameters,
	})
	if err != nil {
		return State{}, err
	}

	state := MapState(raw)
	metrics.ObserveOperationStarted(req.Kind)
	c.audit.Info("操作已受理",
		"operation_id", state.OperationID,
		"endpoint_id", req.EndpointID,
		"kind", req.Kind,
		"status", string(state.Status))
	c.observeTerminal(state)
	return state, nil
}

// Poll 查询操作的当前规范状态。未知操作返回基础设施错误。
func (c *Controller) Poll(ctx context.Context, operationID string) (State, error) {
	if strings.TrimSpace(operationID) == "" {
		return State{}, xerrors.New(xerrors.CodeInvalidArgument, "操作标识为空")
	}
	raw, err := c.backend.State(ctx, operationID)
	if err != nil {
		return State{}, err
	}
	state := MapState(raw)
	if state.Error != nil && state.Error.Code == CodeStateUnmapped {
		c.log.Error("后端上报了无法归一化的状态",
			"operation_id", operationID,
			"raw_status", raw.Status)
	}
	return state, nil
}

// failBeforeSubmit 合成探测阶段失败的终态快照。操作未触达后端，
// 标识由控制器生成。
func (c *Controller) failBeforeSubmit(req Request, connErr *connector.Error) State {
	state := stateFromConnectorError(uuid.NewString(), req.Kind, connErr)
	metrics.ObserveOperationFailed(req.Kind, state.Error.Code)
	c.audit.Info("操作在探测阶段失败",
		"operation_id", state.OperationID,
		"endpoint_id", req.EndpointID,
		"kind", req.Kind,
		"code", state.Error.Code)
	return state
}

// denyOperation 合成门禁拒绝的终态快照。拒绝不触达后端。
func (c *Controller) denyOperation(req Request, decision GateDecision) State {
	state := State{
		OperationID: uuid.NewString(),
		Kind:        req.Kind,
		Status:      StatusFailed,
		Error: &ErrorDescriptor{
			Code:      CodeCapabilityUnsupported,
			Message:   decision.Reason,
			Retryable: false,
		},
	}
	metrics.ObserveOperationDenied(req.Kind)
	c.audit.Info("操作被能力门禁拒绝",
		"operation_id", state.OperationID,
		"endpoint_id", req.EndpointID,
		"kind", req.Kind,
		"missing", string(decision.Missing))
	return state
}

// observeTerminal 记录同步快路径直接返回的终态。
func (c *Controller) observeTerminal(state State) {
	switch state.Status {
	case StatusSucceeded:
		metrics.ObserveOperationSucceeded(state.Kind)
	case StatusFailed:
		code := CodeUnknown
		if state.Error != nil {
			code = state.Error.Code
		}
		metrics.ObserveOperationFailed(state.Kind, code)
	}
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.EndpointID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "端点标识为空")
	}
	if strings.TrimSpace(req.Kind) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作类型为空")
	}
	return nil
}
