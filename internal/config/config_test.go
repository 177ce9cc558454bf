package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{RootDir: "/srv/feeds"}
	setDefaults(cfg)

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"FetchedDir", cfg.FetchedDir, "/srv/feeds/fetched"},
		{"Template", cfg.Template, "/srv/feeds/template.html"},
		{"Index", cfg.Index, "/srv/feeds/index.html"},
		{"DatetimeFormat", cfg.DatetimeFormat, "%Y-%m-%d %H:%M:%S"},
		{"ArchivePattern", cfg.ArchivePattern, "*"},
		{"Workers", cfg.Workers, 1},
		{"Identity", cfg.Identity, "title"},
		{"Layout.Latest", cfg.Layout.Latest, "latest.xml"},
		{"Layout.Existing", cfg.Layout.Existing, "feed.xml"},
		{"Layout.ArchiveDir", cfg.Layout.ArchiveDir, "wayback"},
		{"Layout.Output", cfg.Layout.Output, "feed_all.xml"},
		{"History.DBPath", cfg.History.DBPath, "/srv/feeds/feedfuse.db"},
		{"Log.Level", cfg.Log.Level, "info"},
		{"len(Sources)", len(cfg.Sources), 2},
		{"Sources[0].BaseDir", cfg.Sources[0].BaseDir, "/srv/feeds/fetched/sedaily"},
		{"Sources[1].BaseDir", cfg.Sources[1].BaseDir, "/srv/feeds/fetched/changelog"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestSetDefaults_DoesNotOverride(t *testing.T) {
	cfg := &Config{
		RootDir:        "/srv",
		DatetimeFormat: "%b %d",
		Workers:        4,
		Layout:         LayoutConfig{Output: "merged.xml"},
		Log:            LogConfig{Level: "debug"},
		Sources:        []Source{{Name: "go", BaseDir: "/data/go"}},
	}
	setDefaults(cfg)

	if cfg.DatetimeFormat != "%b %d" {
		t.Errorf("DatetimeFormat 不应被覆盖: %s", cfg.DatetimeFormat)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers 不应被覆盖: %d", cfg.Workers)
	}
	if cfg.Layout.Output != "merged.xml" {
		t.Errorf("Layout.Output 不应被覆盖: %s", cfg.Layout.Output)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level 不应被覆盖: %s", cfg.Log.Level)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].BaseDir != "/data/go" {
		t.Errorf("Sources 不应被覆盖: %+v", cfg.Sources)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedfuse.yaml")
	content := `
workers: 2
skip_malformed: true
sources:
  - name: golang
    url: ${FEEDFUSE_TEST_URL}
  - name: local
    base_dir: snapshots/local
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FEEDFUSE_TEST_URL", "https://go.dev/blog/feed.atom")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.RootDir != dir {
		t.Errorf("RootDir 应为配置文件所在目录: %s", cfg.RootDir)
	}
	if !cfg.SkipMalformed || cfg.Workers != 2 {
		t.Errorf("字段解析错误: %+v", cfg)
	}
	if got := cfg.Sources[0].URL; got != "https://go.dev/blog/feed.atom" {
		t.Errorf("环境变量未展开: %s", got)
	}
	if got, want := cfg.Sources[1].BaseDir, filepath.Join(dir, "snapshots/local"); got != want {
		t.Errorf("BaseDir = %s, want %s", got, want)
	}
	if _, ok := cfg.FindSource("local"); !ok {
		t.Error("应能找到 local")
	}
	if _, ok := cfg.FindSource("missing"); ok {
		t.Error("不应找到 missing")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FEEDFUSE_DOTENV_LEVEL=warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "feedfuse.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: ${FEEDFUSE_DOTENV_LEVEL}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("FEEDFUSE_DOTENV_LEVEL") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf(".env 未生效: %s", cfg.Log.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("期望文件不存在返回错误")
	}

	cases := map[string]string{
		"bad.yaml":      "sources: [",
		"noname.yaml":   "sources:\n  - url: https://example.com\n",
		"dup.yaml":      "sources:\n  - name: a\n  - name: a\n",
		"badglob.yaml":  "archive_pattern: \"[\"\n",
		"identity.yaml": "identity: uuid\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: 期望返回错误", name)
		}
	}
}
