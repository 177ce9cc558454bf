package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 是 feedfuse 的顶层配置结构。
type Config struct {
	// RootDir 根目录，index.html 和模板都相对于它。
	RootDir string `yaml:"root_dir"`
	// FetchedDir 各订阅源快照所在目录，相对路径基于 RootDir。
	FetchedDir string `yaml:"fetched_dir"`
	// Template 首页模板文件，不存在时使用内置模板。
	Template string `yaml:"template"`
	// Index 生成的首页文件名。
	Index string `yaml:"index"`
	// DatetimeFormat strftime 格式，用于首页时间显示。
	DatetimeFormat string `yaml:"datetime_format"`
	// ArchivePattern 匹配历史快照文件名的 glob。
	ArchivePattern string `yaml:"archive_pattern"`
	// SkipMalformed 为 true 时跳过损坏的历史快照而不是中止该源的合并。
	SkipMalformed bool `yaml:"skip_malformed"`
	// Workers 并行处理的订阅源数量，<=1 表示顺序处理。
	Workers int `yaml:"workers"`
	// Identity 去重标识：title（默认）或 link。
	Identity string `yaml:"identity"`

	Layout  LayoutConfig  `yaml:"layout"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
	Sources []Source      `yaml:"sources"`
}

// Source 一个需要合并的订阅源。
type Source struct {
	Name string `yaml:"name"`
	// URL 仅供抓取程序使用，合并时不访问网络。
	URL string `yaml:"url"`
	// BaseDir 快照目录，为空时为 FetchedDir/Name。
	BaseDir string `yaml:"base_dir"`
}

// LayoutConfig 单个订阅源目录内的文件布局。
type LayoutConfig struct {
	Latest     string `yaml:"latest"`
	Existing   string `yaml:"existing"`
	ArchiveDir string `yaml:"archive_dir"`
	Output     string `yaml:"output"`
}

// HistoryConfig 运行历史（SQLite）配置。
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// DefaultSources 未配置订阅源时使用的两个播客。
var DefaultSources = []Source{
	{Name: "sedaily", URL: "https://softwareengineeringdaily.com/category/podcast/feed"},
	{Name: "changelog", URL: "https://changelog.com/podcast/feed"},
}

// Default 返回全部使用默认值的配置，root 为根目录。
func Default(root string) *Config {
	cfg := &Config{RootDir: root}
	setDefaults(cfg)
	return cfg
}

// Load 读取 YAML 配置文件并返回 Config。
// 同目录下的 .env 会先被加载，随后展开 ${VAR_NAME} 形式的环境变量。
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载环境文件 %s 失败: %w", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if cfg.RootDir == "" {
		cfg.RootDir = filepath.Dir(path)
	}
	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查订阅源名称是否为空或重复。
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("第 %d 个订阅源缺少 name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("订阅源重复: %s", s.Name)
		}
		seen[s.Name] = true
	}
	if c.Identity != "title" && c.Identity != "link" {
		return fmt.Errorf("identity 只能是 title 或 link: %s", c.Identity)
	}
	if _, err := filepath.Match(c.ArchivePattern, ""); err != nil {
		return fmt.Errorf("archive_pattern 无效: %w", err)
	}
	return nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.RootDir == "" {
		cfg.RootDir = "."
	}
	cfg.RootDir = expandHome(cfg.RootDir)

	if cfg.FetchedDir == "" {
		cfg.FetchedDir = "fetched"
	}
	cfg.FetchedDir = cfg.resolve(expandHome(cfg.FetchedDir))

	if cfg.Template == "" {
		cfg.Template = "template.html"
	}
	cfg.Template = cfg.resolve(expandHome(cfg.Template))

	if cfg.Index == "" {
		cfg.Index = "index.html"
	}
	cfg.Index = cfg.resolve(expandHome(cfg.Index))

	if cfg.DatetimeFormat == "" {
		cfg.DatetimeFormat = "%Y-%m-%d %H:%M:%S"
	}
	if cfg.ArchivePattern == "" {
		cfg.ArchivePattern = "*"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Identity == "" {
		cfg.Identity = "title"
	}

	if cfg.Layout.Latest == "" {
		cfg.Layout.Latest = "latest.xml"
	}
	if cfg.Layout.Existing == "" {
		cfg.Layout.Existing = "feed.xml"
	}
	if cfg.Layout.ArchiveDir == "" {
		cfg.Layout.ArchiveDir = "wayback"
	}
	if cfg.Layout.Output == "" {
		cfg.Layout.Output = "feed_all.xml"
	}

	if cfg.History.DBPath == "" {
		cfg.History.DBPath = "feedfuse.db"
	}
	cfg.History.DBPath = cfg.resolve(expandHome(cfg.History.DBPath))

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		cfg.Log.File = cfg.resolve(expandHome(cfg.Log.File))
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = append([]Source(nil), DefaultSources...)
	}
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.BaseDir == "" {
			s.BaseDir = filepath.Join(cfg.FetchedDir, s.Name)
		} else {
			s.BaseDir = cfg.resolve(expandHome(s.BaseDir))
		}
	}
}

// resolve 把相对路径解析到 RootDir 下。
func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.RootDir, p)
}

// FindSource 按名称查找订阅源。
func (c *Config) FindSource(name string) (Source, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// expandHome Go 不会自动展开 ~，需要手动替换为用户主目录。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return filepath.Join(home, p[2:])
}
