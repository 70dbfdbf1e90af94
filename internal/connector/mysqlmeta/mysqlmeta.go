// Package mysqlmeta implements the connector for MySQL endpoints.
// Probing pings the server, metadata collection walks information_schema.
package mysqlmeta

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"

	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/workflow"
)

const connectorType = "mysqlmeta"

// MySQL 鉴权失败的错误码。
const (
	mysqlAccessDenied   = 1045
	mysqlDBAccessDenied = 1044
)

// Connector 通过 MySQL 协议采集数据库元数据。
type Connector struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// New 创建 MySQL 元数据连接器。
func New() *Connector {
	return &Connector{pools: make(map[string]*sql.DB)}
}

// Type 实现 connector.Connector 接口。
func (c *Connector) Type() string { return connectorType }

// open 为端点 DSN 建立或复用连接池。
func (c *Connector) open(dsn string) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.pools[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, connector.Unreachable(err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	c.pools[dsn] = db
	return db, nil
}

// classify 将 MySQL 错误归类为连接器错误。
func classify(err error) *connector.Error {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlAccessDenied:
			return connector.AuthInvalid(mysqlErr.Message)
		case mysqlDBAccessDenied:
			return connector.ScopeMissing(mysqlErr.Message, nil)
		}
	}
	return connector.ClassifyTransport(err)
}

// Probe 验证数据库可达并返回支持的操作。
func (c *Connector) Probe(ctx context.Context, target connector.Target) (capability.Result, error) {
	if target.Endpoint == nil {
		return capability.Result{}, connector.Unreachable(fmt.Errorf("未提供端点"))
	}
	db, err := c.open(target.Endpoint.Address)
	if err != nil {
		return capability.Result{}, err
	}
	if err := db.PingContext(ctx); err != nil {
		return capability.Result{}, classify(err)
	}

	operations := capability.NewSet(capability.TestConnection, capability.MetadataRun, capability.MetadataPreview)
	return capability.Result{
		Capabilities:        operations.Clone(),
		SupportedOperations: operations,
	}, nil
}

// Execute 执行数据库元数据采集。
func (c *Connector) Execute(ctx context.Context, target connector.Target, op *workflow.Operation) (*workflow.ExecutionResult, error) {
	if target.Endpoint == nil {
		return nil, connector.Unreachable(fmt.Errorf("未提供端点"))
	}
	db, err := c.open(target.Endpoint.Address)
	if err != nil {
		return nil, err
	}

	switch capability.Normalize(op.Kind) {
	case capability.TestConnection:
		if err := db.PingContext(ctx); err != nil {
			return nil, classify(err)
		}
		return &workflow.ExecutionResult{Records: 1, Summary: "数据库连通性验证通过"}, nil
	case capability.MetadataRun:
		return c.collectMetadata(ctx, db)
	case capability.MetadataPreview:
		return c.previewMetadata(ctx, db)
	default:
		return nil, connector.ExecutionFailed(fmt.Errorf("MySQL 连接器不支持操作类型 %s", op.Kind))
	}
}

// collectMetadata 统计 information_schema 中的库表信息。
func (c *Connector) collectMetadata(ctx context.Context, db *sql.DB) (*workflow.ExecutionResult, error) {
	const stmt = `SELECT table_schema, COUNT(*) FROM information_schema.tables
        WHERE table_schema NOT IN ('mysql', 'sys', 'performance_schema', 'information_schema')
        GROUP BY table_schema`

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	schemas := make(map[string]any)
	var total int64
	for rows.Next() {
		var schema string
		var count int64
		if err := rows.Scan(&schema, &count); err != nil {
			return nil, connector.ExecutionFailed(err)
		}
		schemas[schema] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return &workflow.ExecutionResult{
		Records: total,
		Summary: fmt.Sprintf("采集到 %d 个库共 %d 张表", len(schemas), total),
		Output:  map[string]any{"schemas": schemas},
	}, nil
}

// previewMetadata 仅统计表数量，不展开明细。
func (c *Connector) previewMetadata(ctx context.Context, db *sql.DB) (*workflow.ExecutionResult, error) {
	const stmt = `SELECT COUNT(*) FROM information_schema.tables
        WHERE table_schema NOT IN ('mysql', 'sys', 'performance_schema', 'information_schema')`

	var total int64
	if err := db.QueryRowContext(ctx, stmt).Scan(&total); err != nil {
		return nil, classify(err)
	}
	return &workflow.ExecutionResult{
		Records: total,
		Summary: fmt.Sprintf("预览到 %d 张表", total),
	}, nil
}

// Close 释放所有连接池。
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for dsn, db := range c.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.pools, dsn)
	}
	return firstErr
}

var _ connector.Connector = (*Connector)(nil)
