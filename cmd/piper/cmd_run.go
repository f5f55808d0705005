package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"piper/pkg/model"

	"github.com/spf13/cobra"
)

var (
	runDevTools string
	runTarget   string
	runWatch    string
	runList     bool
)

// runCmd 启动抓取会话并输出事件，直到收到中断信号
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to Chrome and pipe intercepted traffic through the tools",
	Long: `Start a capture session against a Chrome instance started with
--remote-debugging-port. Every intercepted request and response is passed
to the configured macros, listeners, highlighters and commentators; events
are printed as JSON lines.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := signalContext()
		defer cancel()

		id, err := svc.StartSession(model.SessionConfig{DevToolsURL: runDevTools})
		if err != nil {
			return err
		}
		defer svc.StopSession(id)

		if runList {
			targets, err := svc.ListTargets(ctx, id)
			if err != nil {
				return err
			}
			for _, t := range targets {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Title, t.URL)
			}
			return nil
		}

		if runWatch != "" {
			go func() {
				if err := svc.WatchConfigFile(ctx, runWatch); err != nil {
					log.Err(err, "配置文件监视退出", "path", runWatch)
				}
			}()
		}

		tid, err := svc.AttachTarget(ctx, id, model.TargetID(runTarget))
		if err != nil {
			return err
		}
		if err := svc.EnableInterception(id); err != nil {
			return err
		}
		log.Info("开始拦截", "session", string(id), "target", string(tid))

		events, err := svc.SubscribeEvents(id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for {
			select {
			case <-ctx.Done():
				if err := svc.DisableInterception(id); err != nil && !errors.Is(err, ctx.Err()) {
					log.Warn("停止拦截失败", "error", err)
				}
				return nil
			case ev := <-events:
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runDevTools, "devtools", "", "DevTools HTTP endpoint (default from settings)")
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "target id to attach (default: first page)")
	runCmd.Flags().StringVarP(&runWatch, "watch", "w", "", "reload tool definitions when this YAML file changes")
	runCmd.Flags().BoolVar(&runList, "list-targets", false, "list attachable pages and exit")
	rootCmd.AddCommand(runCmd)
}
