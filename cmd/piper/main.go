package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"piper/internal/config"
	"piper/internal/logger"
	"piper/pkg/api"

	"github.com/spf13/cobra"
)

var (
	settingsPath string
	verbose      bool

	settings *config.Config
	log      logger.Logger
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "piper",
	Short: "Pipe HTTP messages through external command-line tools",
	Long: `piper runs external programs as message viewers, macros, listeners,
highlighters, commentators, user actions and payload tools.

Tool definitions are loaded from a YAML file and persisted in a local
SQLite database; a capture session attaches to Chrome through the DevTools
protocol and runs every intercepted message through the configured tools.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		if verbose {
			c.Log.Level = "debug"
		}
		settings = c
		log = logger.New(logger.Options{Level: c.Log.Level, Writers: c.Log.Writer, File: c.Log.File})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "settings file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// openService 按当前设置创建服务，调用方负责关闭
func openService() (api.Service, error) {
	return api.NewService(settings, log)
}

// signalContext 收到中断信号时取消的 context
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
