// Package merge 把最新快照、上一次合并结果和历史快照合并为一个去重后的订阅源。
package merge

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/iabetor/feedfuse/internal/logger"
	"github.com/iabetor/feedfuse/internal/snapshot"
)

// IdentityFunc 从条目中提取去重用的标识。
// ok 为 false 表示条目没有标识，它不会与任何已有条目相同。
type IdentityFunc func(it snapshot.Item) (key string, ok bool)

// TitleIdentity 以标题作为标识，区分大小写，不做任何规范化。
func TitleIdentity(it snapshot.Item) (string, bool) {
	if it.Title == nil {
		return "", false
	}
	return *it.Title, true
}

// LinkIdentity 优先使用 guid/id，其次使用 link。
func LinkIdentity(it snapshot.Item) (string, bool) {
	if it.GUID != "" {
		return it.GUID, true
	}
	if it.Link != "" {
		return it.Link, true
	}
	return "", false
}

// IdentityByName 按配置名称返回标识函数，支持 title 和 link。
func IdentityByName(name string) (IdentityFunc, error) {
	switch name {
	case "", "title":
		return TitleIdentity, nil
	case "link":
		return LinkIdentity, nil
	default:
		return nil, fmt.Errorf("未知的标识类型: %s", name)
	}
}

// Contribution 记录一个候选快照对合并结果的贡献。
type Contribution struct {
	Path   string
	Loaded int
	Added  int
	// Skipped 为 true 时 Err 说明跳过原因。
	Skipped bool
	Err     error
}

// Result 一次合并的结果。
type Result struct {
	Channel *snapshot.Channel
	Items   []snapshot.Item
	// Count 合并后的条目总数。
	Count int
	// Latest 来自最新快照的条目数。
	Latest        int
	Contributions []Contribution
}

// Recovered 返回从旧快照补回的条目数。
func (r *Result) Recovered() int { return r.Count - r.Latest }

// Engine 合并引擎，不保存跨次调用的状态，可以重复使用。
type Engine struct {
	identity      IdentityFunc
	skipMalformed bool
	load          func(path string) (*snapshot.Snapshot, error)
	log           *zap.Logger
}

// Option 配置 Engine。
type Option func(*Engine)

// WithIdentity 替换标识提取函数。
func WithIdentity(fn IdentityFunc) Option {
	return func(e *Engine) {
		e.identity = fn
	}
}

// WithSkipMalformed 为 true 时损坏的历史快照只记录警告并跳过，不中止合并。
func WithSkipMalformed(skip bool) Option {
	return func(e *Engine) {
		e.skipMalformed = skip
	}
}

// WithLogger 使用带字段的 logger 输出合并日志。
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New 创建合并引擎，默认以标题为标识。
func New(opts ...Option) *Engine {
	e := &Engine{
		identity: TitleIdentity,
		load:     snapshot.Load,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Merge 以 latestPath 为基础，依次合并 existingPath 和 archivePaths（新的在前）中尚未出现的条目。
//
// 最新快照的条目全部保留且不在内部去重；其余条目按候选文件顺序、文件内文档顺序追加。
// 任何候选文件损坏或格式（RSS/Atom）与最新快照不同，都会中止合并并返回
// *snapshot.MalformedFeedError，不会产生部分结果。
// existingPath 不存在（第一次运行）时跳过。
func (e *Engine) Merge(latestPath, existingPath string, archivePaths []string) (*Result, error) {
	log := e.log
	if log == nil {
		log = logger.Z
	}

	latest, err := e.load(latestPath)
	if err != nil {
		return nil, err
	}

	items := make([]snapshot.Item, 0, len(latest.Items))
	seen := make(map[string]struct{}, len(latest.Items))
	for _, it := range latest.Items {
		if key, ok := e.identity(it); ok {
			seen[key] = struct{}{}
		}
		items = append(items, it)
		log.Debug("[merge] 最新条目", zap.String("title", it.TitleText()), zap.String("pub_date", it.PubDate))
	}

	res := &Result{Latest: len(items)}

	var candidates []string
	if existingPath != "" {
		candidates = append(candidates, existingPath)
	}
	candidates = append(candidates, archivePaths...)

	for i, path := range candidates {
		snap, err := e.load(path)
		if err == nil && snap.Channel.Format != latest.Channel.Format {
			// 混入另一种格式的条目会让输出在重新读取时丢失这些条目
			err = &snapshot.MalformedFeedError{
				Path:   path,
				Reason: fmt.Sprintf("格式为 %s，与最新快照的 %s 不一致", snap.Channel.Format, latest.Channel.Format),
			}
		}
		if err != nil {
			isExisting := i == 0 && existingPath != ""
			switch {
			case isExisting && errors.Is(err, fs.ErrNotExist):
				log.Warn("[merge] 上次合并结果不存在，跳过", zap.String("path", path))
			case !isExisting && e.skipMalformed:
				log.Warn("[merge] 跳过损坏的历史快照", zap.Error(err))
			default:
				return nil, err
			}
			res.Contributions = append(res.Contributions, Contribution{Path: path, Skipped: true, Err: err})
			continue
		}

		c := Contribution{Path: path, Loaded: len(snap.Items)}
		for _, it := range snap.Items {
			key, ok := e.identity(it)
			if ok {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			items = append(items, it)
			c.Added++
			log.Debug("[merge] 补回条目",
				zap.String("title", it.TitleText()),
				zap.String("pub_date", it.PubDate),
				zap.String("from", path),
			)
		}
		res.Contributions = append(res.Contributions, c)
	}

	res.Items = items
	res.Count = len(items)
	res.Channel = latest.Channel.WithItems(items)

	log.Info("[merge] 合并完成",
		zap.String("latest", latestPath),
		zap.Int("entries", res.Count),
		zap.Int("from_latest", res.Latest),
		zap.Int("recovered", res.Recovered()),
		zap.Int("candidates", len(candidates)),
	)
	return res, nil
}
