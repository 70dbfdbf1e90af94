// connectorhubctl 是 ConnectorHub 的命令行客户端，覆盖端点管理、
// 能力探测与操作生命周期的日常操作。
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ConnectorHub/sdk/go/connectorhub"
)

var (
	serverURL string
	token     string
)

func main() {
	root := &cobra.Command{
		Use:           "connectorhubctl",
		Short:         "ConnectorHub 命令行客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("CONNECTORHUB_SERVER", "http://127.0.0.1:8080"), "API 服务地址")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("CONNECTORHUB_TOKEN"), "API 访问令牌")

	root.AddCommand(newStartCmd(), newGetCmd(), newWaitCmd(), newEndpointsCmd(), newProbeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func newClient() (*connectorhub.Client, error) {
	client, err := connectorhub.NewClient(serverURL, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		client.SetAccessToken(token)
	}
	return client, nil
}

func newStartCmd() *cobra.Command {
	var (
		endpointID string
		templateID string
		kind       string
		paramsJSON string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "启动一次操作",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			var params map[string]any
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("解析参数失败: %w", err)
				}
			}
			state, err := client.StartOperation(cmd.Context(), connectorhub.OperationRequest{
				EndpointID: endpointID,
				TemplateID: templateID,
				Kind:       kind,
				Parameters: params,
			})
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	}
	cmd.Flags().StringVar(&endpointID, "endpoint", "", "目标端点 ID")
	cmd.Flags().StringVar(&templateID, "template", "", "连接器模板 ID")
	cmd.Flags().StringVar(&kind, "kind", "", "操作类型，例如 metadata.run")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON 形式的操作参数")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <operation-id>",
		Short: "查询操作的当前状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			state, err := client.GetOperation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	}
}

func newWaitCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "wait <operation-id>",
		Short: "轮询操作直到终态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			state, err := client.WaitOperation(cmd.Context(), args[0], interval)
			if err != nil {
				return err
			}
			if err := printJSON(state); err != nil {
				return err
			}
			if state.Status == connectorhub.StatusFailed {
				return fmt.Errorf("操作以失败告终: %s", failureCode(state))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "轮询间隔")
	return cmd
}

func newEndpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "管理端点",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出所有端点",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			endpoints, err := client.ListEndpoints(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(endpoints)
		},
	}

	var definition string
	create := &cobra.Command{
		Use:   "create",
		Short: "注册新端点",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			var ep connectorhub.Endpoint
			if err := json.Unmarshal([]byte(definition), &ep); err != nil {
				return fmt.Errorf("解析端点定义失败: %w", err)
			}
			created, err := client.CreateEndpoint(cmd.Context(), ep)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
	create.Flags().StringVar(&definition, "definition", "", "JSON 形式的端点定义")
	_ = create.MarkFlagRequired("definition")

	cmd.AddCommand(list, create)
	return cmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <endpoint-id>",
		Short: "实时探测端点能力",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.ProbeCapabilities(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func failureCode(state connectorhub.OperationState) string {
	if state.Error == nil {
		return "E_UNKNOWN"
	}
	return state.Error.Code
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
