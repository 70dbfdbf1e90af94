// Package evm implements the connector for EVM compatible JSON-RPC
// endpoints. Probing performs a live chain identity check, metadata
// collection gathers a lightweight chain snapshot.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/workflow"
)

const connectorType = "evm"

// Connector 通过 JSON-RPC 与 EVM 兼容链交互。
type Connector struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// New 创建 EVM 连接器。
func New() *Connector {
	return &Connector{clients: make(map[string]*ethclient.Client)}
}

// Type 实现 connector.Connector 接口。
func (c *Connector) Type() string { return connectorType }

// dial 为端点地址建立或复用 RPC 连接。
func (c *Connector) dial(ctx context.Context, address string) (*ethclient.Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, connector.Unreachable(fmt.Errorf("未配置 RPC 地址"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[address]; ok {
		return client, nil
	}
	rpcClient, err := gethrpc.DialContext(ctx, address)
	if err != nil {
		return nil, connector.ClassifyTransport(err)
	}
	client := ethclient.NewClient(rpcClient)
	c.clients[address] = client
	return client, nil
}

// Probe 验证节点可达并返回链级能力。EVM 节点不区分凭据，
// 能力集合与支持的操作集合一致。
func (c *Connector) Probe(ctx context.Context, target connector.Target) (capability.Result, error) {
	if target.Endpoint == nil {
		return capability.Result{}, connector.Unreachable(fmt.Errorf("未提供端点"))
	}
	client, err := c.dial(ctx, target.Endpoint.Address)
	if err != nil {
		return capability.Result{}, err
	}
	if _, err := client.ChainID(ctx); err != nil {
		return capability.Result{}, connector.ClassifyTransport(err)
	}

	operations := capability.NewSet(capability.TestConnection, capability.MetadataRun)
	return capability.Result{
		Capabilities:        operations.Clone(),
		SupportedOperations: operations,
	}, nil
}

// Execute 执行链上元数据采集。
func (c *Connector) Execute(ctx context.Context, target connector.Target, op *workflow.Operation) (*workflow.ExecutionResult, error) {
	if target.Endpoint == nil {
		return nil, connector.Unreachable(fmt.Errorf("未提供端点"))
	}
	client, err := c.dial(ctx, target.Endpoint.Address)
	if err != nil {
		return nil, err
	}

	switch capability.Normalize(op.Kind) {
	case capability.TestConnection:
		if _, err := client.ChainID(ctx); err != nil {
			return nil, connector.ClassifyTransport(err)
		}
		return &workflow.ExecutionResult{Records: 1, Summary: "节点连通性验证通过"}, nil
	case capability.MetadataRun:
		return c.collectSnapshot(ctx, client)
	default:
		return nil, connector.ExecutionFailed(fmt.Errorf("EVM 连接器不支持操作类型 %s", op.Kind))
	}
}

// collectSnapshot 采集链的轻量元数据快照。
func (c *Connector) collectSnapshot(ctx context.Context, client *ethclient.Client) (*workflow.ExecutionResult, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, connector.ClassifyTransport(err)
	}
	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, connector.ClassifyTransport(err)
	}
	return &workflow.ExecutionResult{
		Records: 1,
		Summary: fmt.Sprintf("链 %s 当前高度 %d", toHexBig(chainID), blockNumber),
		Output: map[string]any{
			"chain_id":     toHexBig(chainID),
			"block_number": fmt.Sprintf("0x%x", blockNumber),
		},
	}, nil
}

// Close 释放所有 RPC 连接。
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for address, client := range c.clients {
		client.Close()
		delete(c.clients, address)
	}
	return nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ connector.Connector = (*Connector)(nil)
