package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"piper/internal/pump"
	"piper/internal/schema"

	"github.com/spf13/cobra"
)

var (
	invokeInput  string
	historyLimit int
	historyPrune time.Duration
)

// invokeCmd 按需执行工具，stdout 边到达边输出
var invokeCmd = &cobra.Command{
	Use:   "invoke <kind> <name>",
	Short: "Run one tool on a payload read from a file or stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		var payload []byte
		switch invokeInput {
		case "":
		case "-":
			payload, err = io.ReadAll(cmd.InOrStdin())
		default:
			payload, err = os.ReadFile(invokeInput)
		}
		if err != nil {
			return err
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := signalContext()
		defer cancel()
		out := cmd.OutOrStdout()
		sink := pump.FuncSink{OnData: func(b []byte) { _, _ = out.Write(b) }}
		res, err := svc.Invoke(ctx, kind, args[1], payload, sink)
		if res != nil && len(res.Stderr) > 0 {
			_, _ = cmd.ErrOrStderr().Write(res.Stderr)
		}
		return err
	},
}

// historyCmd 查看调用记录
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent tool invocations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()
		ctx := cmd.Context()
		if historyPrune > 0 {
			n, err := svc.PruneHistory(ctx, historyPrune)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records\n", n)
		}
		rows, err := svc.History(ctx, historyLimit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s exit=%-3d %5dms  %v %s\n",
				r.CreatedAt.Format(time.DateTime), r.Status, r.ExitCode, r.DurationMS, r.Argv, r.Error)
		}
		return nil
	},
}

func init() {
	invokeCmd.Flags().StringVarP(&invokeInput, "input", "i", "-", "payload file, - for stdin, empty for none")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete records older than this first")
	rootCmd.AddCommand(invokeCmd, historyCmd)
}
