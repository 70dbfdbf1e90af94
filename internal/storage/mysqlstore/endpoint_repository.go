// Package mysqlstore 提供端点与凭据的 MySQL 持久化实现。
// 操作状态的 MySQL 存储见 internal/workflow。
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"ConnectorHub/internal/endpoint"
	xerrors "ConnectorHub/internal/errors"
)

const mysqlDuplicateEntry = 1062

// EndpointRepository 使用 MySQL 保存端点定义。
type EndpointRepository struct {
	db *sql.DB
}

// NewEndpointRepository 基于既有连接池创建端点仓储并确保表结构存在。
func NewEndpointRepository(db *sql.DB) (*EndpointRepository, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供数据库连接")
	}
	repo := &EndpointRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Open 建立连接池并创建端点仓储。
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

func (r *EndpointRepository) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS endpoints (
        id VARCHAR(64) PRIMARY KEY,
        name VARCHAR(255) NOT NULL DEFAULT '',
        connector VARCHAR(64) NOT NULL,
        address VARCHAR(1024) NOT NULL,
        properties TEXT,
        credential_id VARCHAR(64) NOT NULL DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_endpoint_connector (connector)
)`
	if _, err := r.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 endpoints 表失败")
	}
	return nil
}

// Create 写入新端点。ID 冲突映射为 ErrEndpointConflict。
func (r *EndpointRepository) Create(ctx context.Context, ep *endpoint.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	ep.Normalize()
	now := time.Now().Unix()
	if ep.CreatedAt == 0 {
		ep.CreatedAt = now
	}
	ep.UpdatedAt = now

	properties, err := marshalProperties(ep.Properties)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO endpoints
        (id, name, connector, address, properties, credential_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Name, ep.Connector, ep.Address, properties, ep.CredentialID, ep.CreatedAt, ep.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return endpoint.ErrEndpointConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入端点失败")
	}
	return nil
}

// Get 读取单个端点。
func (r *EndpointRepository) Get(ctx context.Context, id string) (*endpoint.Endpoint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, connector, address, properties,
        credential_id, created_at, updated_at FROM endpoints WHERE id = ?`, id)
	ep, err := scanEndpoint(row.Scan)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, endpoint.ErrEndpointNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取端点失败")
	}
	return ep, nil
}

// List 返回全部端点，按创建时间排序。
func (r *EndpointRepository) List(ctx context.Context) ([]*endpoint.Endpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, connector, address, properties,
        credential_id, created_at, updated_at FROM endpoints ORDER BY created_at ASC`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询端点列表失败")
	}
	defer rows.Close()

	var endpoints []*endpoint.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析端点记录失败")
		}
		endpoints = append(endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历端点列表失败")
	}
	return endpoints, nil
}

// Update 覆盖端点定义，保留创建时间。
func (r *EndpointRepository) Update(ctx context.Context, ep *endpoint.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	ep.Normalize()
	ep.UpdatedAt = time.Now().Unix()

	properties, err := marshalProperties(ep.Properties)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `UPDATE endpoints SET name = ?, connector = ?,
        address = ?, properties = ?, credential_id = ?, updated_at = ? WHERE id = ?`,
		ep.Name, ep.Connector, ep.Address, properties, ep.CredentialID, ep.UpdatedAt, ep.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新端点失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		return endpoint.ErrEndpointNotFound
	}
	return nil
}

// Delete 删除端点。
func (r *EndpointRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除端点失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取删除结果失败")
	}
	if affected == 0 {
		return endpoint.ErrEndpointNotFound
	}
	return nil
}

// Close 实现 endpoint.Repository。连接池由调用方管理。
func (r *EndpointRepository) Close() error { return nil }

func scanEndpoint(scan func(dest ...any) error) (*endpoint.Endpoint, error) {
	var ep endpoint.Endpoint
	var properties sql.NullString
	if err := scan(&ep.ID, &ep.Name, &ep.Connector, &ep.Address, &properties,
		&ep.CredentialID, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return nil, err
	}
	if properties.Valid && properties.String != "" {
		if err := json.Unmarshal([]byte(properties.String), &ep.Properties); err != nil {
			return nil, err
		}
	}
	return &ep, nil
}

func marshalProperties(properties map[string]string) (string, error) {
	if len(properties) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(properties)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化端点属性失败")
	}
	return string(encoded), nil
}

var _ endpoint.Repository = (*EndpointRepository)(nil)
