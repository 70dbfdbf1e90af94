package operation

import (
	"fmt"

	"ConnectorHub/internal/capability"
)

// GateDecision 是能力门禁对单个操作类型的裁决结果。
type GateDecision struct {
	Allowed bool
	Missing capability.Token
	Reason  string
}

// Decide 依据实时探测结果裁决操作类型能否放行。操作类型必须同时
// 出现在能力集合与支持的操作集合中，任一集合缺失即拒绝；两个集合
// 相互独立，不从彼此推导。
func Decide(result capability.Result, kind string) GateDecision {
	token := capability.Normalize(kind)
	if !result.Capabilities.Has(token) || !result.SupportedOperations.Has(token) {
		return GateDecision{
			Missing: token,
			Reason:  fmt.Sprintf("endpoint does not advertise capability %s", token),
		}
	}
	return GateDecision{Allowed: true}
}
