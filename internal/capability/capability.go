package capability

import (
	"sort"
	"strings"
)

// Token 表示连接器声明的一项能力或可调用的操作类别。
// 连接器生态会在不重新发布核心的情况下新增词汇，因此这里使用
// 开放的字符串类型加集合判断，而不是封闭枚举。
type Token string

// 常见操作类别。列表并不完整，连接器可以声明任意新的 Token。
const (
	TestConnection  Token = "endpoint.test_connection"
	MetadataRun     Token = "metadata.run"
	MetadataPreview Token = "metadata.preview"
)

// Normalize 去除空白并统一大小写，保证集合判断的一致性。
func Normalize(raw string) Token {
	return Token(strings.ToLower(strings.TrimSpace(raw)))
}

// Set 是能力 Token 的集合。
type Set map[Token]struct{}

// NewSet 根据给定 Token 构造集合。
func NewSet(tokens ...Token) Set {
	set := make(Set, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		set[token] = struct{}{}
	}
	return set
}

// SetFromStrings 将字符串切片归一化后构造集合。
func SetFromStrings(values []string) Set {
	set := make(Set, len(values))
	for _, value := range values {
		token := Normalize(value)
		if token == "" {
			continue
		}
		set[token] = struct{}{}
	}
	return set
}

// Has 判断 Token 是否在集合内。
func (s Set) Has(token Token) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[token]
	return ok
}

// Tokens 返回排序后的 Token 列表，便于日志与测试。
func (s Set) Tokens() []Token {
	if len(s) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(s))
	for token := range s {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}

// Clone 返回集合的副本。
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	clone := make(Set, len(s))
	for token := range s {
		clone[token] = struct{}{}
	}
	return clone
}

// ProbeError 描述一次探测中连接器侧的失败。
// 它属于探测结果的一部分，而非 Go error：传输层故障才以 error 返回。
type ProbeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthDescriptor 描述连接器要求的认证方式与授权范围。
type AuthDescriptor struct {
	Mode   string   `json:"mode,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Result 是一次实时能力探测的结果。每次调用都重新产生，核心不缓存。
type Result struct {
	Capabilities        Set               `json:"capabilities"`
	SupportedOperations Set               `json:"supported_operations"`
	Constraints         map[string]string `json:"constraints,omitempty"`
	Auth                *AuthDescriptor   `json:"auth,omitempty"`
	Err                 *ProbeError       `json:"error,omitempty"`
}

// Failed 判断探测是否以连接器侧失败告终。
func (r Result) Failed() bool {
	return r.Err != nil
}
