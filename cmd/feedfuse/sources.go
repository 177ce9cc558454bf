package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iabetor/feedfuse/internal/config"
	"github.com/iabetor/feedfuse/internal/snapshot"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "列出配置的订阅源及其快照状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		name := styleName.Width(nameColWidth)
		for _, src := range cfg.Sources {
			st, err := inspectSource(cfg, src)
			if err != nil {
				fmt.Fprintf(w, "%s %s %v\n", styleFailed.Render("✗"), name.Render(src.Name), err)
				continue
			}
			if !st.exists {
				fmt.Fprintf(w, "%s %s %s\n", styleWarn.Render("-"), name.Render(src.Name), styleSubtle.Render("目录不存在: "+src.BaseDir))
				continue
			}
			latest := "有最新快照"
			if !st.hasLatest {
				latest = styleWarn.Render("缺少最新快照")
			}
			fmt.Fprintf(w, "%s %s %s, %d 个历史快照  %s\n",
				styleOK.Render("✓"), name.Render(src.Name), latest, st.archives, styleSubtle.Render(src.BaseDir))
		}
		return nil
	},
}

type sourceStatus struct {
	exists    bool
	hasLatest bool
	archives  int
}

func inspectSource(cfg *config.Config, src config.Source) (sourceStatus, error) {
	var st sourceStatus
	info, err := os.Stat(src.BaseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.exists = info.IsDir()
	if !st.exists {
		return st, nil
	}

	if _, err := os.Stat(filepath.Join(src.BaseDir, cfg.Layout.Latest)); err == nil {
		st.hasLatest = true
	}
	archives, err := snapshot.Locate(filepath.Join(src.BaseDir, cfg.Layout.ArchiveDir), cfg.ArchivePattern)
	if err != nil {
		return st, err
	}
	st.archives = len(archives)
	return st, nil
}
