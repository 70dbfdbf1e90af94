package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"server":{"address":":9090"}}`), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("显式字段不应被覆盖: %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("存储与队列应默认为内存实现: %+v", cfg)
	}
	if cfg.Workflow.MaxRetries != 3 || cfg.Workflow.WorkerCount != 4 {
		t.Fatalf("执行后端默认值异常: %+v", cfg.Workflow)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("认证应默认关闭: %q", cfg.Auth.Mode)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("数据目录默认值异常: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"templates":{"path":"templates.yaml"},"plugins":{"enabled":true,"path":"plugins.yaml"},"runtime":{"data_dir":"state"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Templates.Path != filepath.Join(dir, "templates.yaml") {
		t.Fatalf("模板路径应相对配置文件解析: %q", cfg.Templates.Path)
	}
	if !cfg.Plugins.Enabled || cfg.Plugins.Path != filepath.Join(dir, "plugins.yaml") {
		t.Fatalf("插件清单路径应相对配置文件解析: %+v", cfg.Plugins)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("数据目录应相对配置文件解析: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "ghost.json")); err == nil {
		t.Fatal("不存在的文件应报错")
	}
}
