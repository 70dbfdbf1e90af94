package template

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ConnectorHub/internal/capability"
)

// Definitions 对应 configs/templates.yaml 的整体结构。
type Definitions struct {
	Templates map[string]Definition `yaml:"templates"`
}

// Definition 描述单个连接器模板在配置文件中的形态。
type Definition struct {
	Name         string          `yaml:"name"`
	Version      string          `yaml:"version"`
	Connector    string          `yaml:"connector"`
	Description  string          `yaml:"description"`
	Capabilities []string        `yaml:"capabilities"`
	Parameters   []ParameterSpec `yaml:"parameters"`
	Auth         AuthSpec        `yaml:"auth"`
}

// ParameterSpec 描述模板要求的端点参数。
type ParameterSpec struct {
	Name        string `yaml:"name"`
	Required    bool   `yaml:"required"`
	Secret      bool   `yaml:"secret"`
	Description string `yaml:"description"`
}

// AuthSpec 描述模板的认证要求。
type AuthSpec struct {
	Mode   string   `yaml:"mode"`
	Scopes []string `yaml:"scopes"`
}

// Descriptor 是解析后的连接器模板。Capabilities 为模板静态声明的能力，
// 仅作展示与参数校验用途；是否放行操作由实时探测结果决定。
type Descriptor struct {
	ID           string
	Name         string
	Version      string
	Connector    string
	Description  string
	Capabilities capability.Set
	Parameters   []ParameterSpec
	Auth         AuthSpec
}

// LoadDefinitions 解析包含模板定义的 YAML 文件。
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Templates: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取模板配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析模板配置失败: %w", err)
	}
	if defs.Templates == nil {
		defs.Templates = map[string]Definition{}
	}
	return defs, nil
}
