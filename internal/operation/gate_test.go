package operation

import (
	"strings"
	"testing"

	"ConnectorHub/internal/capability"
)

func TestDecideRequiresBothSets(t *testing.T) {
	kind := capability.MetadataRun
	cases := []struct {
		name         string
		capabilities capability.Set
		supported    capability.Set
		allowed      bool
	}{
		{"双集合均包含", capability.NewSet(kind), capability.NewSet(kind), true},
		{"仅能力集合包含", capability.NewSet(kind), capability.NewSet(), false},
		{"仅支持集合包含", capability.NewSet(), capability.NewSet(kind), false},
		{"双集合均缺失", capability.NewSet(), capability.NewSet(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Decide(capability.Result{
				Capabilities:        tc.capabilities,
				SupportedOperations: tc.supported,
			}, string(kind))
			if decision.Allowed != tc.allowed {
				t.Fatalf("裁决结果应为 %v, got %+v", tc.allowed, decision)
			}
		})
	}
}

func TestDecideDenialNamesMissingToken(t *testing.T) {
	decision := Decide(capability.Result{
		Capabilities:        capability.NewSet(capability.TestConnection),
		SupportedOperations: capability.NewSet(capability.TestConnection),
	}, "Metadata.Run")
	if decision.Allowed {
		t.Fatal("缺失能力应拒绝")
	}
	if decision.Missing != capability.MetadataRun {
		t.Fatalf("缺失令牌异常: %q", decision.Missing)
	}
	reason := strings.ToLower(decision.Reason)
	if !strings.Contains(reason, "capability") {
		t.Fatalf("拒绝理由应提及 capability: %q", decision.Reason)
	}
	if !strings.Contains(decision.Reason, string(capability.MetadataRun)) {
		t.Fatalf("拒绝理由应点名缺失令牌: %q", decision.Reason)
	}
}

func TestDecideNormalizesKind(t *testing.T) {
	set := capability.NewSet(capability.MetadataPreview)
	decision := Decide(capability.Result{Capabilities: set, SupportedOperations: set}, "  METADATA.PREVIEW ")
	if !decision.Allowed {
		t.Fatalf("操作类型应在归一化后匹配: %+v", decision)
	}
}
