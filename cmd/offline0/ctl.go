package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"offline0/internal/offline0"
)

var (
	agentURL string

	ctlCmd = &cobra.Command{
		Use:   "ctl",
		Short: "Talk to a running agent over its control channel",
	}

	ctlStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show cache, queue and lifecycle status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd.Context(), http.MethodGet, "status", nil)
		},
	}

	ctlClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd.Context(), http.MethodPost, "caches/clear", nil)
		},
	}

	ctlSkipWaitingCmd = &cobra.Command{
		Use:   "skip-waiting",
		Short: "Ask the host to activate this version immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd.Context(), http.MethodPost, "skip-waiting", nil)
		},
	}

	ctlSyncCmd = &cobra.Command{
		Use:       "sync <tag>",
		Short:     "Replay a mutation queue now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: offline0.Tags,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd.Context(), http.MethodPost, "sync/"+url.PathEscape(args[0]), nil)
		},
	}

	ctlEnqueueCmd = &cobra.Command{
		Use:   "enqueue <queue> <json>",
		Short: "Queue a mutation for later replay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd.Context(), http.MethodPost, "queues/"+url.PathEscape(args[0]), []byte(args[1]))
		},
	}

	ctlPushCmd = &cobra.Command{
		Use:   "push <json>",
		Short: "Deliver a push payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd.Context(), http.MethodPost, "push", []byte(args[0]))
		},
	}
)

func init() {
	ctlCmd.PersistentFlags().StringVar(&agentURL, "agent", "", "agent base URL (default http://127.0.0.1:<server.port>)")
	ctlCmd.AddCommand(ctlStatusCmd, ctlClearCmd, ctlSkipWaitingCmd, ctlSyncCmd, ctlEnqueueCmd, ctlPushCmd)
	rootCmd.AddCommand(ctlCmd)
}

func control(ctx context.Context, method, path string, body []byte) error {
	base := agentURL
	if base == "" {
		port := viper.GetInt("server.port")
		if port == 0 {
			port = offline0.DefaultConfig().Server.Port
		}
		base = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, base+offline0.ControlPrefix+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent answered %s", resp.Status)
	}
	return nil
}
