package template

import (
	"fmt"
	"sort"
	"strings"

	"ConnectorHub/internal/capability"
	xerrors "ConnectorHub/internal/errors"
)

// ErrTemplateNotFound 表示指定的模板不存在。
var ErrTemplateNotFound = xerrors.New(xerrors.CodeTemplateNotFound, "template not found")

// Registry 管理以 ID 索引的连接器模板。模板在启动时一次性装载，
// 之后只读，多个调用方可以并发访问。
type Registry struct {
	templates map[string]Descriptor
}

// NewRegistry 从模板定义构造注册表。
func NewRegistry(defs Definitions) (*Registry, error) {
	templates := make(map[string]Descriptor, len(defs.Templates))
	for id, def := range defs.Templates {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "模板 ID 不能为空")
		}
		connector := strings.ToLower(strings.TrimSpace(def.Connector))
		if connector == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("模板 %s 未声明连接器类型", id))
		}
		templates[id] = Descriptor{
			ID:           id,
			Name:         def.Name,
			Version:      def.Version,
			Connector:    connector,
			Description:  def.Description,
			Capabilities: capability.SetFromStrings(def.Capabilities),
			Parameters:   append([]ParameterSpec(nil), def.Parameters...),
			Auth:         def.Auth,
		}
	}
	return &Registry{templates: templates}, nil
}

// LoadRegistry 读取 YAML 定义并构造注册表。
func LoadRegistry(path string) (*Registry, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs)
}

// Resolve 返回指定 ID 的模板描述。
func (r *Registry) Resolve(id string) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, xerrors.New(xerrors.CodeInitializationFailure, "模板注册表未初始化")
	}
	desc, ok := r.templates[strings.TrimSpace(id)]
	if !ok {
		return Descriptor{}, ErrTemplateNotFound
	}
	return desc, nil
}

// ValidateParameters 校验端点参数是否满足模板要求。
func (r *Registry) ValidateParameters(id string, params map[string]any) error {
	desc, err := r.Resolve(id)
	if err != nil {
		return err
	}
	for _, spec := range desc.Parameters {
		if !spec.Required {
			continue
		}
		value, ok := params[spec.Name]
		if !ok {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("模板 %s 缺少必填参数 %s", id, spec.Name))
		}
		if text, isString := value.(string); isString && strings.TrimSpace(text) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("模板 %s 参数 %s 不能为空", id, spec.Name))
		}
	}
	return nil
}

// IDs 返回已注册模板的 ID 列表。
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All 返回全部模板描述，按 ID 排序。
func (r *Registry) All() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.templates))
	for _, id := range r.IDs() {
		out = append(out, r.templates[id])
	}
	return out
}
