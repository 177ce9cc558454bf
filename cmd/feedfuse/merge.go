package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iabetor/feedfuse/internal/aggregate"
	"github.com/iabetor/feedfuse/internal/logger"
)

var mergeCmd = &cobra.Command{
	Use:   "merge NAME",
	Short: "只合并一个订阅源，不生成首页",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		src, ok := cfg.FindSource(args[0])
		if !ok {
			return fmt.Errorf("配置中没有订阅源 %s", args[0])
		}

		db := openHistory(cfg)
		if db != nil {
			defer db.Close()
		}
		b, err := newBuilder(cfg, db)
		if err != nil {
			return err
		}

		sum, err := b.Aggregate(cmd.Context(), src)
		if err != nil {
			printReport(cmd.OutOrStdout(), &aggregate.Report{Failures: []aggregate.Failure{{Source: src.Name, Err: err}}})
			return err
		}
		printReport(cmd.OutOrStdout(), &aggregate.Report{Summaries: []aggregate.Summary{*sum}})
		return nil
	},
}
