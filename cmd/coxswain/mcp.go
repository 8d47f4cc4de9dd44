package main

import (
	"fmt"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/milnet2/coxswain/internal/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	var remote, apiKey string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdio against a running coxswain server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol
			cfg, log, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}
			if remote == "" {
				remote = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			if apiKey == "" {
				apiKey = cfg.Auth.APIKey
			}
			log.Info("mcp stdio", "remote", remote)
			return mcpserver.ServeStdio(mcp.New(mcp.NewHTTPClient(remote, apiKey), Version, log))
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "base URL of the coxswain server (default localhost on the configured port)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for mutating calls (default from config)")
	return cmd
}
