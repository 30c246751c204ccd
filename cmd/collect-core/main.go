package main

// @title           Collect Core API
// @version         1.0
// @description     Konnector connection service. Collect Core connects data-source accounts, schedules their konnectors and tracks every connection's status.

// @contact.name   Custodia Labs OSS
// @contact.url    https://github.com/custodia-labs/collect-core/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/custodia-labs/collect-core/docs"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "collect-core",
	Short:         "Konnector connection service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// RUN_MODE keeps container images working without arguments
		return runMode(cmd, getEnv("RUN_MODE", "all"))
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"api"},
	Short:   "Run the HTTP API only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, "api")
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker and scheduler only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, "worker")
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the HTTP API and the worker in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, "all")
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue an API bearer token signed with JWT_SECRET.

Examples:
  collect-core token --subject ui
  collect-core token --subject dashboard --scope read --ttl 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		scopes, _ := cmd.Flags().GetStringSlice("scope")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := issueToken(getEnv("JWT_SECRET", defaultJWTSecret), subject, scopes, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("subject", "collect-ui", "token subject")
	tokenCmd.Flags().StringSlice("scope", []string{"read", "write"}, "granted scopes")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd, workerCmd, allCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvInterval parses "start-end" hours, e.g. "0-5".
func getEnvInterval(key string) []int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	start, end, ok := strings.Cut(value, "-")
	if !ok {
		return nil
	}
	s, err1 := strconv.Atoi(strings.TrimSpace(start))
	e, err2 := strconv.Atoi(strings.TrimSpace(end))
	if err1 != nil || err2 != nil {
		return nil
	}
	return []int{s, e}
}
