package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/iabetor/feedfuse/internal/aggregate"
	"github.com/iabetor/feedfuse/internal/config"
	"github.com/iabetor/feedfuse/internal/database"
	"github.com/iabetor/feedfuse/internal/logger"
	"github.com/iabetor/feedfuse/internal/merge"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultConfigPath = "configs/feedfuse.yaml"

var (
	flagConfig   string
	flagLogLevel string
	flagWorkers  int
	flagNoIndex  bool
)

var rootCmd = &cobra.Command{
	Use:   "feedfuse",
	Short: "合并订阅源快照并生成首页",
	Long: `feedfuse 把每个订阅源的最新快照、上一次合并结果和历史快照合并成一个去重后的订阅源文件，
然后生成列出所有合并结果的 index.html。

不带子命令运行时等同于 feedfuse run。`,
	SilenceUsage: true,
	RunE:         runAll,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "feedfuse %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath, "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "覆盖配置中的日志级别 (debug/info/warn/error)")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "并行处理的订阅源数量，0 表示使用配置")
	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().BoolVar(&flagNoIndex, "no-index", false, "只合并，不生成首页")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig 读取配置并初始化日志。
// 未显式指定 --config 且默认配置文件不存在时，使用当前目录的默认配置。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(flagConfig); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default(".")
	} else {
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
	}

	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagWorkers > 0 {
		cfg.Workers = flagWorkers
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.Debugf("[main] 配置已加载: root=%s sources=%d", cfg.RootDir, len(cfg.Sources))
	return cfg, nil
}

// openHistory 打开运行历史库。未启用或打开失败时返回 nil，合并照常进行。
func openHistory(cfg *config.Config) *database.DB {
	if !cfg.History.Enabled {
		return nil
	}
	db, err := database.Open(cfg.History.DBPath)
	if err != nil {
		logger.Warnf("[main] 运行历史不可用: %v", err)
		return nil
	}
	if err := db.Migrate(); err != nil {
		logger.Warnf("[main] 运行历史不可用: %v", err)
		db.Close()
		return nil
	}
	logger.Debugf("[main] 运行历史: %s", db.Path())
	return db
}

func newBuilder(cfg *config.Config, db *database.DB) (*aggregate.Builder, error) {
	identity, err := merge.IdentityByName(cfg.Identity)
	if err != nil {
		return nil, err
	}
	return aggregate.NewBuilder(cfg,
		aggregate.WithHistory(db),
		aggregate.WithIdentity(identity),
	), nil
}
