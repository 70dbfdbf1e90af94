package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"

	"ConnectorHub/internal/auth"
	xerrors "ConnectorHub/internal/errors"
)

// CredentialStore 使用 MySQL 保存连接器凭据。凭据整体以 JSON 形式
// 落库，新增凭据种类无需变更表结构。
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore 基于既有连接池创建凭据存储并确保表结构存在。
func NewCredentialStore(db *sql.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供数据库连接")
	}
	store := &CredentialStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *CredentialStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS credentials (
        id VARCHAR(64) PRIMARY KEY,
        kind VARCHAR(32) NOT NULL,
        payload TEXT NOT NULL
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 credentials 表失败")
	}
	return nil
}

// Put 写入或覆盖凭据。
func (s *CredentialStore) Put(ctx context.Context, cred *auth.Credential) error {
	if cred == nil || strings.TrimSpace(cred.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "凭据 ID 不能为空")
	}
	payload, err := json.Marshal(cred)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化凭据失败")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO credentials (id, kind, payload)
        VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE kind = VALUES(kind), payload = VALUES(payload)`,
		cred.ID, string(cred.Kind), string(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入凭据失败")
	}
	return nil
}

// Get 读取凭据。
func (s *CredentialStore) Get(ctx context.Context, id string) (*auth.Credential, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM credentials WHERE id = ?`, id).Scan(&payload)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrCredentialNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取凭据失败")
	}
	var cred auth.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析凭据失败")
	}
	return &cred, nil
}

// Delete 删除凭据。
func (s *CredentialStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除凭据失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取删除结果失败")
	}
	if affected == 0 {
		return auth.ErrCredentialNotFound
	}
	return nil
}

// Close 实现 auth.CredentialStore。连接池由调用方管理。
func (s *CredentialStore) Close() error { return nil }

var _ auth.CredentialStore = (*CredentialStore)(nil)
