// Package aggregate 对每个订阅源执行合并、写出结果，并生成首页需要的汇总记录。
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iabetor/feedfuse/internal/config"
	"github.com/iabetor/feedfuse/internal/database"
	"github.com/iabetor/feedfuse/internal/logger"
	"github.com/iabetor/feedfuse/internal/merge"
	"github.com/iabetor/feedfuse/internal/snapshot"
)

// MissingSourceError 订阅源的快照目录不存在。
type MissingSourceError struct {
	Source string
	Dir    string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("订阅源 %s 的目录不存在: %s", e.Source, e.Dir)
}

// Summary 一个订阅源的合并汇总。
type Summary struct {
	Name        string
	URL         string
	FeedTitle   string
	NumEntries  int
	Recovered   int
	Target      string // 相对于根目录的输出路径，使用 / 分隔
	OutputPath  string
	TimeUpdated time.Time
	// Newest 合并结果中最新条目的发布时间，无法解析时为零值。
	Newest time.Time
	// PrevEntries 上一次成功运行的条目数，HasPrev 为 false 时无意义。
	PrevEntries int
	HasPrev     bool
}

// Failure 一个失败的订阅源。
type Failure struct {
	Source string
	Err    error
}

// Missing 表示失败原因是目录不存在。
func (f Failure) Missing() bool {
	var me *MissingSourceError
	return errors.As(f.Err, &me)
}

// Report 一次运行的结果，Summaries 保持配置中的顺序。
type Report struct {
	RunID     string
	Summaries []Summary
	Failures  []Failure
}

// Err 汇总所有失败，全部成功时返回 nil。
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// Builder 逐个订阅源执行合并。
type Builder struct {
	cfg      *config.Config
	history  *database.DB
	identity merge.IdentityFunc
	now      func() time.Time
	newRunID func() string
}

// Option 配置 Builder。
type Option func(*Builder)

// WithHistory 把每次运行写入 SQLite 历史库，db 为 nil 时不记录。
func WithHistory(db *database.DB) Option {
	return func(b *Builder) {
		b.history = db
	}
}

// WithIdentity 替换去重标识函数。
func WithIdentity(fn merge.IdentityFunc) Option {
	return func(b *Builder) {
		b.identity = fn
	}
}

// WithClock 替换时间来源，测试用。
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder 创建 Builder。
func NewBuilder(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:      cfg,
		identity: merge.TitleIdentity,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run 处理全部订阅源。单个订阅源失败只记录日志，不影响其他订阅源。
// cfg.Workers 大于 1 时并行处理，结果顺序仍与 sources 一致。
func (b *Builder) Run(ctx context.Context, sources []config.Source) *Report {
	report := &Report{RunID: b.newRunID()}
	log := logger.With(zap.String("run_id", report.RunID))
	log.Info("[aggregate] 开始合并", zap.Int("sources", len(sources)), zap.Int("workers", b.cfg.Workers))

	summaries := make([]*Summary, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(max(b.cfg.Workers, 1))
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			summaries[i], errs[i] = b.aggregate(ctx, src, log.With(zap.String("source", src.Name)), report.RunID)
			return nil
		})
	}
	g.Wait()

	for i, src := range sources {
		if err := errs[i]; err != nil {
			f := Failure{Source: src.Name, Err: err}
			status := database.StatusFailed
			if f.Missing() {
				status = database.StatusMissing
				logger.Warnf("[aggregate] 跳过 %s: %v", src.Name, err)
			} else {
				logger.Errorf("[aggregate] %s 合并失败: %v", src.Name, err)
			}
			b.record(database.Run{
				RunID:     report.RunID,
				Source:    src.Name,
				Status:    status,
				Error:     err.Error(),
				UpdatedAt: b.now(),
			})
			report.Failures = append(report.Failures, f)
			continue
		}
		report.Summaries = append(report.Summaries, *summaries[i])
	}

	log.Info("[aggregate] 全部完成",
		zap.Int("succeeded", len(report.Summaries)),
		zap.Int("failed", len(report.Failures)),
	)
	return report
}

// Aggregate 合并单个订阅源并写出结果文件。
func (b *Builder) Aggregate(ctx context.Context, src config.Source) (*Summary, error) {
	runID := b.newRunID()
	log := logger.With(zap.String("run_id", runID), zap.String("source", src.Name))
	sum, err := b.aggregate(ctx, src, log, runID)
	if err != nil {
		var me *MissingSourceError
		status := database.StatusFailed
		if errors.As(err, &me) {
			status = database.StatusMissing
		}
		b.record(database.Run{RunID: runID, Source: src.Name, Status: status, Error: err.Error(), UpdatedAt: b.now()})
		return nil, err
	}
	return sum, nil
}

func (b *Builder) aggregate(ctx context.Context, src config.Source, log *zap.Logger, runID string) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(src.BaseDir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, &MissingSourceError{Source: src.Name, Dir: src.BaseDir}
	}
	if err != nil {
		return nil, fmt.Errorf("检查目录 %s 失败: %w", src.BaseDir, err)
	}

	layout := b.cfg.Layout
	archives, err := snapshot.Locate(filepath.Join(src.BaseDir, layout.ArchiveDir), b.cfg.ArchivePattern)
	if err != nil {
		return nil, fmt.Errorf("查找历史快照失败: %w", err)
	}
	log.Debug("[aggregate] 找到历史快照", zap.Int("archives", len(archives)))

	engine := merge.New(
		merge.WithIdentity(b.identity),
		merge.WithSkipMalformed(b.cfg.SkipMalformed),
		merge.WithLogger(log),
	)
	res, err := engine.Merge(
		filepath.Join(src.BaseDir, layout.Latest),
		filepath.Join(src.BaseDir, layout.Existing),
		archives,
	)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(src.BaseDir, layout.Output)
	if err := snapshot.WriteFile(out, res.Channel); err != nil {
		return nil, err
	}

	sum := &Summary{
		Name:        src.Name,
		URL:         src.URL,
		FeedTitle:   res.Channel.Title,
		NumEntries:  res.Count,
		Recovered:   res.Recovered(),
		Target:      relTarget(b.cfg.RootDir, out),
		OutputPath:  out,
		TimeUpdated: b.now(),
	}
	if title, newest, err := inspect(out); err != nil {
		log.Warn("[aggregate] gofeed 无法解析合并结果", zap.Error(err))
	} else {
		if title != "" {
			sum.FeedTitle = title
		}
		sum.Newest = newest
	}

	if b.history != nil {
		if prev, err := b.history.LastRun(src.Name); err != nil {
			log.Warn("[aggregate] 读取运行历史失败", zap.Error(err))
		} else if prev != nil {
			sum.PrevEntries, sum.HasPrev = prev.NumEntries, true
		}
	}
	b.record(database.Run{
		RunID:      runID,
		Source:     src.Name,
		Status:     database.StatusOK,
		NumEntries: sum.NumEntries,
		Recovered:  sum.Recovered,
		Target:     sum.Target,
		UpdatedAt:  sum.TimeUpdated,
	})

	log.Info("[aggregate] 已写出",
		zap.String("target", sum.Target),
		zap.Int("entries", sum.NumEntries),
		zap.Int("recovered", sum.Recovered),
	)
	return sum, nil
}

func (b *Builder) record(r database.Run) {
	if b.history == nil {
		return
	}
	if err := b.history.RecordRun(r); err != nil {
		logger.Warnf("[aggregate] %v", err)
	}
}

// inspect 用 gofeed 重新读取写出的文件，取订阅源标题和最新条目时间。
func inspect(path string) (string, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", time.Time{}, err
	}
	defer f.Close()

	feed, err := gofeed.NewParser().Parse(f)
	if err != nil {
		return "", time.Time{}, err
	}

	var newest time.Time
	for _, it := range feed.Items {
		t := it.PublishedParsed
		if t == nil {
			t = it.UpdatedParsed
		}
		if t != nil && t.After(newest) {
			newest = *t
		}
	}
	return feed.Title, newest, nil
}

func relTarget(root, out string) string {
	rel, err := filepath.Rel(root, out)
	if err != nil {
		return filepath.ToSlash(out)
	}
	return filepath.ToSlash(rel)
}
