package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pairpad",
	Short: "pairpad is a two-seat collaborative code room server.",
	Run: func(cmd *cobra.Command, args []string) {
		runApp(cmd)
	},
}

func init() {
	rootCmd.Flags().StringP("api-listen-addr", "a", "", "REST API listen address (overrides API_LISTEN_ADDR)")
	rootCmd.Flags().StringP("ws-listen-addr", "w", "", "websocket listen address (overrides WS_LISTEN_ADDR)")
	rootCmd.Flags().String("metrics-listen-addr", "", "metrics listen address (overrides METRICS_LISTEN_ADDR)")
	rootCmd.Flags().StringP("log-level", "l", "", "log level (overrides LOG_LEVEL)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
