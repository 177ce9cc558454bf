package aggregate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/iabetor/feedfuse/internal/config"
	"github.com/iabetor/feedfuse/internal/database"
	"github.com/iabetor/feedfuse/internal/feedtest"
	"github.com/iabetor/feedfuse/internal/snapshot"
)

var fixedNow = time.Date(2021, 6, 2, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, workers int, names ...string) (*config.Config, []config.Source) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Workers = workers
	cfg.Sources = nil
	for _, n := range names {
		cfg.Sources = append(cfg.Sources, config.Source{
			Name:    n,
			URL:     "https://example.com/" + n,
			BaseDir: filepath.Join(cfg.FetchedDir, n),
		})
	}
	return cfg, cfg.Sources
}

func populate(t *testing.T, src config.Source) {
	t.Helper()
	feedtest.WriteRSS(t, filepath.Join(src.BaseDir, "latest.xml"), src.Name, "A", "B")
	feedtest.WriteRSS(t, filepath.Join(src.BaseDir, "feed.xml"), src.Name, "B", "C")
	feedtest.WriteRSS(t, filepath.Join(src.BaseDir, "wayback", "2021-01-01.xml"), src.Name, "C", "D")
}

func titlesAt(t *testing.T, path string) []string {
	t.Helper()
	snap, err := snapshot.Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	var out []string
	for _, it := range snap.Items {
		out = append(out, it.TitleText())
	}
	return out
}

func TestRunWritesMergedFeeds(t *testing.T) {
	cfg, sources := setup(t, 1, "sedaily", "changelog")
	populate(t, sources[0])
	populate(t, sources[1])

	report := NewBuilder(cfg, WithClock(func() time.Time { return fixedNow })).Run(context.Background(), sources)
	if err := report.Err(); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	if report.RunID == "" {
		t.Error("RunID 不应为空")
	}

	want := []Summary{
		{
			Name:        "sedaily",
			URL:         "https://example.com/sedaily",
			FeedTitle:   "sedaily",
			NumEntries:  4,
			Recovered:   2,
			Target:      "fetched/sedaily/feed_all.xml",
			OutputPath:  filepath.Join(sources[0].BaseDir, "feed_all.xml"),
			TimeUpdated: fixedNow,
			Newest:      time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			Name:        "changelog",
			URL:         "https://example.com/changelog",
			FeedTitle:   "changelog",
			NumEntries:  4,
			Recovered:   2,
			Target:      "fetched/changelog/feed_all.xml",
			OutputPath:  filepath.Join(sources[1].BaseDir, "feed_all.xml"),
			TimeUpdated: fixedNow,
			Newest:      time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC),
		},
	}
	if diff := cmp.Diff(want, report.Summaries, cmpTime); diff != "" {
		t.Errorf("Summaries (-want +got):\n%s", diff)
	}

	got := titlesAt(t, filepath.Join(sources[0].BaseDir, "feed_all.xml"))
	if diff := cmp.Diff([]string{"A", "B", "C", "D"}, got); diff != "" {
		t.Errorf("feed_all.xml (-want +got):\n%s", diff)
	}
}

var cmpTime = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func TestRunIsolatesMissingSource(t *testing.T) {
	cfg, sources := setup(t, 1, "first", "missing", "last")
	populate(t, sources[0])
	populate(t, sources[2])

	report := NewBuilder(cfg).Run(context.Background(), sources)

	var names []string
	for _, s := range report.Summaries {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"first", "last"}, names); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if len(report.Failures) != 1 || report.Failures[0].Source != "missing" || !report.Failures[0].Missing() {
		t.Fatalf("Failures = %+v", report.Failures)
	}
	var me *MissingSourceError
	if !errors.As(report.Err(), &me) {
		t.Errorf("Err 应包含 MissingSourceError: %v", report.Err())
	}
}

func TestRunIsolatesMalformedSource(t *testing.T) {
	cfg, sources := setup(t, 1, "broken", "ok")
	populate(t, sources[0])
	populate(t, sources[1])
	feedtest.Write(t, filepath.Join(sources[0].BaseDir, "wayback", "2020-01-01.xml"), "<rss>")

	report := NewBuilder(cfg).Run(context.Background(), sources)

	if len(report.Summaries) != 1 || report.Summaries[0].Name != "ok" {
		t.Fatalf("Summaries = %+v", report.Summaries)
	}
	var mf *snapshot.MalformedFeedError
	if len(report.Failures) != 1 || !errors.As(report.Failures[0].Err, &mf) {
		t.Fatalf("Failures = %+v", report.Failures)
	}
	if report.Failures[0].Missing() {
		t.Error("格式错误不应被当作目录缺失")
	}
}

func TestRunWriteError(t *testing.T) {
	cfg, sources := setup(t, 1, "s")
	populate(t, sources[0])
	// 输出路径被目录占用，rename 失败
	feedtest.Write(t, filepath.Join(sources[0].BaseDir, "feed_all.xml", "blocker"), "x")

	report := NewBuilder(cfg).Run(context.Background(), sources)
	var we *snapshot.WriteError
	if len(report.Failures) != 1 || !errors.As(report.Failures[0].Err, &we) {
		t.Fatalf("期望 WriteError: %+v", report.Failures)
	}
}

func TestRunParallelKeepsOrder(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f"}
	cfg, sources := setup(t, 3, names...)
	for _, s := range sources {
		populate(t, s)
	}

	report := NewBuilder(cfg).Run(context.Background(), sources)
	if err := report.Err(); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}
	var got []string
	for _, s := range report.Summaries {
		got = append(got, s.Name)
	}
	if diff := cmp.Diff(names, got); diff != "" {
		t.Errorf("顺序不对 (-want +got):\n%s", diff)
	}
}

func TestRunCanceled(t *testing.T) {
	cfg, sources := setup(t, 1, "a")
	populate(t, sources[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := NewBuilder(cfg).Run(ctx, sources)
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, context.Canceled) {
		t.Fatalf("Failures = %+v", report.Failures)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	cfg, sources := setup(t, 1, "s", "gone")
	populate(t, sources[0])

	db, err := database.Open(filepath.Join(cfg.RootDir, "feedfuse.db"))
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(cfg, WithHistory(db))
	first := b.Run(context.Background(), sources)
	if first.Summaries[0].HasPrev {
		t.Error("第一次运行不应有历史")
	}

	runs, err := db.Runs(first.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Status != database.StatusOK || runs[1].Status != database.StatusMissing {
		t.Fatalf("历史记录不对: %+v", runs)
	}

	// 新快照带来一个新条目
	feedtest.WriteRSS(t, filepath.Join(sources[0].BaseDir, "latest.xml"), "s", "N", "A", "B")
	second := b.Run(context.Background(), sources[:1])
	sum := second.Summaries[0]
	if !sum.HasPrev || sum.PrevEntries != 4 || sum.NumEntries != 5 {
		t.Errorf("应读到上次的条目数: %+v", sum)
	}
	if second.RunID == first.RunID {
		t.Error("每次运行的 RunID 应不同")
	}
}

func TestAggregateSingleSource(t *testing.T) {
	cfg, sources := setup(t, 1, "solo")
	populate(t, sources[0])

	sum, err := NewBuilder(cfg).Aggregate(context.Background(), sources[0])
	if err != nil {
		t.Fatalf("Aggregate 失败: %v", err)
	}
	if sum.NumEntries != 4 || !strings.HasSuffix(sum.Target, "solo/feed_all.xml") {
		t.Errorf("Summary = %+v", sum)
	}

	_, err = NewBuilder(cfg).Aggregate(context.Background(), config.Source{Name: "x", BaseDir: filepath.Join(cfg.RootDir, "nope")})
	var me *MissingSourceError
	if !errors.As(err, &me) {
		t.Errorf("期望 MissingSourceError，得到 %v", err)
	}
}

func TestReportErrNil(t *testing.T) {
	r := &Report{}
	if r.Err() != nil {
		t.Error("没有失败时 Err 应为 nil")
	}
}
