package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ConnectorHub/sdk/go/connectorhub"
)

// 该示例启动一个模拟的 ConnectorHub 服务端，演示 SDK 的完整调用流程：
// 注册端点、探测能力、启动操作并轮询到终态。
func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/endpoints", func(w http.ResponseWriter, r *http.Request) {
		var ep connectorhub.Endpoint
		_ = json.NewDecoder(r.Body).Decode(&ep)
		ep.CreatedAt = time.Now().Unix()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ep)
	})
	mux.HandleFunc("/api/v1/endpoints/demo/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"capabilities":         map[string]any{"metadata.run": map[string]any{}},
			"supported_operations": map[string]any{"metadata.run": map[string]any{}},
		})
	})
	mux.HandleFunc("/api/v1/operations", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(connectorhub.OperationState{
			OperationID: "op-demo",
			Kind:        "metadata.run",
			Status:      connectorhub.StatusQueued,
		})
	})
	mux.HandleFunc("/api/v1/operations/op-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(connectorhub.OperationState{
			OperationID: "op-demo",
			Kind:        "metadata.run",
			Status:      connectorhub.StatusSucceeded,
			Attempts:    1,
			Result:      map[string]any{"records": 42, "summary": "采集完成"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := connectorhub.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	ep, err := client.CreateEndpoint(ctx, connectorhub.Endpoint{
		ID:        "demo",
		Name:      "演示端点",
		Connector: "httpapi",
		Address:   "https://api.example.com",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("已注册端点: %s (%s)\n", ep.ID, ep.Connector)

	caps, err := client.ProbeCapabilities(ctx, "demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("端点支持 %d 种操作\n", len(caps.SupportedOperations))

	state, err := client.StartOperation(ctx, connectorhub.OperationRequest{
		EndpointID: "demo",
		Kind:       "metadata.run",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("操作 %s 状态: %s\n", state.OperationID, state.Status)

	final, err := client.WaitOperation(ctx, state.OperationID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("操作结束: %s, 结果: %v\n", final.Status, final.Result)
}
