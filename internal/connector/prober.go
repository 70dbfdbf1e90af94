package connector

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"ConnectorHub/internal/auth"
	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/endpoint"
	xerrors "ConnectorHub/internal/errors"
)

// Prober 对端点发起实时能力探测。每次调用都会真正访问端点，
// 结果不做缓存，保证探测反映端点当下的实际能力。
type Prober struct {
	registry    *Registry
	endpoints   endpoint.Repository
	credentials auth.CredentialStore
	timeout     time.Duration
}

// NewProber 构造 Prober。credentials 可以为空，此时所有探测都不带凭据。
func NewProber(registry *Registry, endpoints endpoint.Repository, credentials auth.CredentialStore, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{
		registry:    registry,
		endpoints:   endpoints,
		credentials: credentials,
		timeout:     timeout,
	}
}

// Probe 探测指定端点的实时能力。连接器侧失败以 *Error 返回。
func (p *Prober) Probe(ctx context.Context, endpointID string) (capability.Result, error) {
	if p == nil || p.registry == nil || p.endpoints == nil {
		return capability.Result{}, xerrors.New(xerrors.CodeInitializationFailure, "探测器未初始化")
	}
	ep, err := p.endpoints.Get(ctx, endpointID)
	if err != nil {
		return capability.Result{}, err
	}
	target, err := p.resolveTarget(ctx, ep)
	if err != nil {
		return capability.Result{}, err
	}
	c, ok := p.registry.Connector(ep.Connector)
	if !ok {
		return capability.Result{}, xerrors.New(xerrors.CodeProbeFailure,
			fmt.Sprintf("端点 %s 使用了未注册的连接器类型 %s", ep.ID, ep.Connector))
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return c.Probe(probeCtx, target)
}

// resolveTarget 解析端点凭据并构造探测目标。
func (p *Prober) resolveTarget(ctx context.Context, ep *endpoint.Endpoint) (Target, error) {
	target := Target{Endpoint: ep}
	if ep.CredentialID == "" || p.credentials == nil {
		return target, nil
	}
	cred, err := p.credentials.Get(ctx, ep.CredentialID)
	if err != nil {
		if stdErrors.Is(err, auth.ErrCredentialNotFound) {
			// 凭据缺失按凭据无效处理，由连接器错误语义承载。
			return Target{}, AuthInvalid(fmt.Sprintf("端点 %s 引用的凭据 %s 不存在", ep.ID, ep.CredentialID))
		}
		return Target{}, err
	}
	if cred.Kind == auth.CredentialBasic {
		// basic 凭据由连接器通过端点属性使用，不构造 bearer 令牌源。
		return target, nil
	}
	source, err := auth.SourceForCredential(cred, p.timeout)
	if err != nil {
		return Target{}, err
	}
	target.Tokens = source
	return target, nil
}
