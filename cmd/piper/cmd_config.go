package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"piper/internal/schema"
	"piper/pkg/model"

	"github.com/spf13/cobra"
)

var exportOutput string

// loadCmd 导入工具配置
var loadCmd = &cobra.Command{
	Use:   "load <tools.yaml>",
	Short: "Load tool definitions from a YAML file and persist them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.LoadConfigFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d tools\n", svc.Config().Total())
		return nil
	},
}

// exportCmd 导出工具配置
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the persisted tool definitions as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()
		out, err := svc.ExportConfig()
		if err != nil {
			return err
		}
		if exportOutput == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		return os.WriteFile(exportOutput, out, 0o644)
	},
}

// listCmd 列出工具
var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List configured tools with their index and state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := model.Kinds
		if len(args) == 1 {
			k, err := schema.ParseKind(args[0])
			if err != nil {
				return err
			}
			kinds = []model.Kind{k}
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		cfg := svc.Config()
		missing := svc.MissingDependencies()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tINDEX\tNAME\tENABLED\tSCOPE\tMISSING")
		for _, k := range kinds {
			for i, t := range cfg.Tools(k) {
				b := t.Base()
				miss := missing[string(k)+"/"+b.Name]
				sort.Strings(miss)
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\t%v\n", k, i, b.Name, b.Enabled, b.Scope, miss)
			}
		}
		return w.Flush()
	},
}

// toggleCmd 切换启用状态
var toggleCmd = &cobra.Command{
	Use:   "toggle <kind> <index>",
	Short: "Enable or disable a tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[1], err)
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.ToggleTool(kind, index); err != nil {
			return err
		}
		t := svc.Config().Tools(kind)[index].Base()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %q enabled=%t\n", kind, t.Name, t.Enabled)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(loadCmd, exportCmd, listCmd, toggleCmd)
}
