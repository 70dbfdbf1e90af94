package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "ConnectorHub/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录操作状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS operation_states (
        id VARCHAR(64) PRIMARY KEY,
        endpoint_id VARCHAR(64) NOT NULL,
        template_id VARCHAR(128) DEFAULT '',
        kind VARCHAR(64) NOT NULL,
        parameters TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        required_scopes TEXT,
        result_records BIGINT NOT NULL DEFAULT 0,
        result_summary TEXT,
        result_output TEXT,
        created_at BIGINT NOT NULL,
        started_at BIGINT NOT NULL DEFAULT 0,
        updated_at BIGINT NOT NULL,
        INDEX idx_operation_status (status),
        INDEX idx_operation_endpoint (endpoint_id),
        INDEX idx_operation_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 operation_states 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE operation_states ADD COLUMN required_scopes TEXT AFTER error_code`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 operation_states.required_scopes 失败")
		}
	}
	return nil
}

// Create 插入新的操作记录。
func (s *MySQLStore) Create(ctx context.Context, op *Operation) error {
	if op == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "operation 不能为空")
	}
	if strings.TrimSpace(op.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作 ID 不能为空")
	}

	now := time.Now().Unix()
	op.CreatedAt = now
	op.UpdatedAt = now

	parametersValue, err := marshalJSONColumn(op.Parameters)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码操作参数失败")
	}

	const stmt = `INSERT INTO operation_states
        (id, endpoint_id, template_id, kind, parameters, status, attempts, max_retries, last_error, error_code, required_scopes, created_at, started_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', NULL, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		op.ID,
		op.EndpointID,
		op.TemplateID,
		op.Kind,
		parametersValue,
		op.Status,
		op.Attempts,
		op.MaxRetries,
		op.CreatedAt,
		op.StartedAt,
		op.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOperationConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入操作失败")
	}
	return nil
}

// Get 查询指定操作。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Operation, error) {
	const stmt = `SELECT id, endpoint_id, template_id, kind, parameters, status, attempts, max_retries, last_error, error_code, required_scopes,
        result_records, result_summary, result_output, created_at, started_at, updated_at
        FROM operation_states WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	op, err := scanOperation(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, err
	}
	return op, nil
}

// Claim 将操作标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Operation, error) {
	const updateStmt = `UPDATE operation_states SET status = ?, attempts = attempts + 1, updated_at = ?,
        started_at = CASE WHEN started_at = 0 THEN ? ELSE started_at END,
        last_error = '', error_code = '', required_scopes = NULL
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新操作状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		op, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch op.Status {
		case StatusSucceeded:
			return op, ErrOperationCompleted
		case StatusRunning:
			return op, ErrOperationConflict
		default:
			if op.Attempts >= op.MaxRetries {
				return op, ErrOperationExhausted
			}
			return op, ErrOperationConflict
		}
	}
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// MarkSucceeded 将操作标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	outputValue, err := marshalJSONColumn(result.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行输出失败")
	}

	const stmt = `UPDATE operation_states SET status = ?, result_records = ?, result_summary = ?, result_output = ?,
        updated_at = ?, last_error = '', error_code = '', required_scopes = NULL WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.Records,
		result.Summary,
		outputValue,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记操作成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// MarkFailed 将操作标记为失败，并保留连接器上报的错误信息。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code string, scopes []string, lastError string, _ bool) error {
	scopesValue, err := marshalScopes(scopes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码授权范围失败")
	}

	const stmt = `UPDATE operation_states SET status = ?, last_error = ?, error_code = ?, required_scopes = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		code,
		scopesValue,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记操作失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// List 返回最近的操作。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Operation, error) {
	opts.applyDefaults()

	query := `SELECT id, endpoint_id, template_id, kind, parameters, status, attempts, max_retries, last_error, error_code, required_scopes,
        result_records, result_summary, result_output, created_at, started_at, updated_at FROM operation_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作列表失败")
	}
	defer rows.Close()

	operations := make([]*Operation, 0, opts.Limit)
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历操作失败")
	}
	return operations, nil
}

// Stats 返回符合过滤条件的操作聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (OperationStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM operation_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats OperationStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return OperationStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanOperation(scan func(dest ...any) error) (*Operation, error) {
	var op Operation
	var result ExecutionResult
	var parameters sql.NullString
	var scopes sql.NullString
	var output sql.NullString

	if err := scan(
		&op.ID,
		&op.EndpointID,
		&op.TemplateID,
		&op.Kind,
		&parameters,
		&op.Status,
		&op.Attempts,
		&op.MaxRetries,
		&op.LastError,
		&op.ErrorCode,
		&scopes,
		&result.Records,
		&result.Summary,
		&output,
		&op.CreatedAt,
		&op.StartedAt,
		&op.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作记录失败")
	}

	decodedParameters, err := unmarshalJSONColumn(parameters)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析操作参数失败")
	}
	op.Parameters = cloneParameters(decodedParameters)

	decodedScopes, err := unmarshalScopes(scopes)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析授权范围失败")
	}
	op.RequiredScopes = decodedScopes

	decodedOutput, err := unmarshalJSONColumn(output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行输出失败")
	}
	result.Output = decodedOutput

	if result.Records != 0 || result.Summary != "" || len(result.Output) > 0 {
		op.Result = &result
	}
	return &op, nil
}

func marshalJSONColumn(value map[string]any) (sql.NullString, error) {
	if len(value) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalJSONColumn(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw.String), &value); err != nil {
		return nil, err
	}
	return value, nil
}

func marshalScopes(scopes []string) (sql.NullString, error) {
	if len(scopes) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(scopes)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalScopes(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(raw.String), &scopes); err != nil {
		return nil, err
	}
	return scopes, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, 0, len(opts.Kinds))
		for range opts.Kinds {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}
	if opts.EndpointID != "" {
		conditions = append(conditions, "endpoint_id = ?")
		args = append(args, opts.EndpointID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
