package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/iabetor/feedfuse/internal/aggregate"
	"github.com/iabetor/feedfuse/internal/database"
	"github.com/iabetor/feedfuse/internal/index"
	"github.com/iabetor/feedfuse/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "合并全部订阅源并生成首页",
	Long: `依次合并配置中的全部订阅源，写出各自的合并结果，然后生成首页。

单个订阅源缺失或失败不影响其他订阅源，首页只列出成功的订阅源。
只要有订阅源未完成，退出码为 1。`,
	Args: cobra.NoArgs,
	RunE: runAll,
}

var (
	styleName    = lipgloss.NewStyle().Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"})
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#E65100", Dark: "#FFA726"})
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"})
	styleSubtle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"})
	nameColWidth = 20
)

func runAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db := openHistory(cfg)
	if db != nil {
		defer db.Close()
	}

	b, err := newBuilder(cfg, db)
	if err != nil {
		return err
	}

	start := time.Now()
	report := b.Run(cmd.Context(), cfg.Sources)
	printReport(cmd.OutOrStdout(), report)
	if db != nil {
		printHistory(cmd.OutOrStdout(), db, report.RunID)
	}

	if !flagNoIndex {
		r, err := index.New(cfg.Template, cfg.Index, cfg.DatetimeFormat)
		if err != nil {
			return err
		}
		if err := r.RenderFile(report.Summaries); err != nil {
			return fmt.Errorf("生成首页失败: %w", err)
		}
	}
	logger.Infof("[main] 完成: %d 成功, %d 失败, 耗时 %s",
		len(report.Summaries), len(report.Failures), time.Since(start).Round(time.Millisecond))

	if err := report.Err(); err != nil {
		return fmt.Errorf("%d 个订阅源未完成: %w", len(report.Failures), err)
	}
	return nil
}

// printHistory 输出本次运行写入历史库的记录数，便于之后按运行 ID 查询。
func printHistory(w io.Writer, db *database.DB, runID string) {
	runs, err := db.Runs(runID)
	if err != nil {
		logger.Warnf("[main] %v", err)
		return
	}
	fmt.Fprintln(w, styleSubtle.Render(fmt.Sprintf("运行 %s，已记录 %d 条历史", runID, len(runs))))
}

// printReport 每个订阅源输出一行：成功的显示条目数和补回数，失败的显示原因。
func printReport(w io.Writer, report *aggregate.Report) {
	name := styleName.Width(nameColWidth)
	for _, s := range report.Summaries {
		line := fmt.Sprintf("%d 条", s.NumEntries)
		if s.Recovered > 0 {
			line += styleSubtle.Render(fmt.Sprintf(" (补回 %d)", s.Recovered))
		}
		fmt.Fprintf(w, "%s %s %s  %s\n", styleOK.Render("✓"), name.Render(s.Name), line, styleSubtle.Render(s.Target))
	}
	for _, f := range report.Failures {
		mark := styleFailed.Render("✗")
		if f.Missing() {
			mark = styleWarn.Render("-")
		}
		fmt.Fprintf(w, "%s %s %v\n", mark, name.Render(f.Source), f.Err)
	}
}
