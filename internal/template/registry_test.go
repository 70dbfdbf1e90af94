package template

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"

	"ConnectorHub/internal/capability"
)

const sampleDefinitions = `
templates:
  mysql-metadata:
    name: MySQL 元数据采集
    version: "1.0"
    connector: mysqlmeta
    capabilities:
      - metadata.run
      - Metadata.Preview
    parameters:
      - name: schema
        required: true
  evm-snapshot:
    name: EVM 链快照
    connector: evm
`

func loadSampleRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinitions), 0o600); err != nil {
		t.Fatalf("写入模板文件失败: %v", err)
	}
	registry, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("加载模板失败: %v", err)
	}
	return registry
}

func TestRegistryResolve(t *testing.T) {
	registry := loadSampleRegistry(t)

	desc, err := registry.Resolve("mysql-metadata")
	if err != nil {
		t.Fatalf("解析模板失败: %v", err)
	}
	if desc.Connector != "mysqlmeta" {
		t.Fatalf("连接器类型异常: %q", desc.Connector)
	}
	if !desc.Capabilities.Has(capability.MetadataPreview) {
		t.Fatal("模板能力应归一化后入集合")
	}

	if _, err := registry.Resolve("ghost"); !stdErrors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("未知模板应返回专用错误: %v", err)
	}
}

func TestRegistryValidateParameters(t *testing.T) {
	registry := loadSampleRegistry(t)

	if err := registry.ValidateParameters("mysql-metadata", nil); err == nil {
		t.Fatal("缺少必填参数应报错")
	}
	if err := registry.ValidateParameters("mysql-metadata", map[string]any{"schema": "  "}); err == nil {
		t.Fatal("空白参数值应报错")
	}
	if err := registry.ValidateParameters("mysql-metadata", map[string]any{"schema": "orders"}); err != nil {
		t.Fatalf("合法参数应通过: %v", err)
	}
	if err := registry.ValidateParameters("evm-snapshot", nil); err != nil {
		t.Fatalf("无参数模板应通过: %v", err)
	}
}

func TestRegistryIDs(t *testing.T) {
	registry := loadSampleRegistry(t)
	ids := registry.IDs()
	if len(ids) != 2 || ids[0] != "evm-snapshot" || ids[1] != "mysql-metadata" {
		t.Fatalf("模板列表异常: %v", ids)
	}
}
