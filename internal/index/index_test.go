package index

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"github.com/iabetor/feedfuse/internal/aggregate"
)

var updated = time.Date(2021, 6, 2, 12, 30, 0, 0, time.UTC)

func summaries() []aggregate.Summary {
	return []aggregate.Summary{
		{Name: "sedaily", FeedTitle: "Software Engineering Daily", NumEntries: 120, Target: "fetched/sedaily/feed_all.xml", TimeUpdated: updated, Newest: updated.Add(-24 * time.Hour), PrevEntries: 118, HasPrev: true},
		{Name: "changelog", NumEntries: 7, Target: "fetched/changelog/feed_all.xml", TimeUpdated: updated},
		{Name: "<script>", NumEntries: 1, Target: "fetched/x/feed_all.xml", TimeUpdated: updated},
	}
}

func newRenderer(t *testing.T, tmplPath string) (*Renderer, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "index.html")
	r, err := New(tmplPath, out, "%Y-%m-%d %H:%M")
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	r.now = func() time.Time { return updated }
	return r, out
}

func TestLinks(t *testing.T) {
	r, _ := newRenderer(t, "")
	got := r.Links(summaries()[:2])
	want := []Link{
		{Name: "sedaily", FeedTitle: "Software Engineering Daily", NumEntries: 120, Target: "fetched/sedaily/feed_all.xml", TimeUpdated: "2021-06-02 12:30", Newest: "2021-06-01 12:30", Delta: "+2"},
		{Name: "changelog", NumEntries: 7, Target: "fetched/changelog/feed_all.xml", TimeUpdated: "2021-06-02 12:30"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRenderFileDefaultTemplate(t *testing.T) {
	r, out := newRenderer(t, filepath.Join(t.TempDir(), "missing.html"))
	if err := r.RenderFile(summaries()); err != nil {
		t.Fatalf("RenderFile 失败: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("解析 HTML 失败: %v", err)
	}

	rows := doc.Find("tr.feed")
	if rows.Length() != 3 {
		t.Fatalf("期望 3 行，得到 %d", rows.Length())
	}
	var names, targets, entries []string
	rows.Each(func(i int, s *goquery.Selection) {
		names = append(names, s.Find("a.target").Text())
		href, _ := s.Find("a.target").Attr("href")
		targets = append(targets, href)
		entries = append(entries, strings.Fields(s.Find("td.entries").Text())[0])
	})
	if diff := cmp.Diff([]string{"sedaily", "changelog", "<script>"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"fetched/sedaily/feed_all.xml", "fetched/changelog/feed_all.xml", "fetched/x/feed_all.xml"}, targets); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"120", "7", "1"}, entries); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if got := rows.First().Find("td.updated").Text(); got != "2021-06-02 12:30" {
		t.Errorf("updated = %q", got)
	}
	if got := rows.First().Find(".delta").Text(); got != "+2" {
		t.Errorf("delta = %q", got)
	}
	if doc.Find("script").Length() != 0 {
		t.Error("名称应被转义")
	}
}

func TestRenderFileCustomTemplate(t *testing.T) {
	tmplPath := filepath.Join(t.TempDir(), "template.html")
	content := `{{range .Links}}{{.Name}}={{.NumEntries}}@{{.Target}} ({{.TimeUpdated}})
{{end}}`
	if err := os.WriteFile(tmplPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	r, out := newRenderer(t, tmplPath)
	if err := r.RenderFile(summaries()[:2]); err != nil {
		t.Fatalf("RenderFile 失败: %v", err)
	}
	data, _ := os.ReadFile(out)
	want := "sedaily=120@fetched/sedaily/feed_all.xml (2021-06-02 12:30)\n" +
		"changelog=7@fetched/changelog/feed_all.xml (2021-06-02 12:30)\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRenderFileBadTemplate(t *testing.T) {
	tmplPath := filepath.Join(t.TempDir(), "template.html")
	if err := os.WriteFile(tmplPath, []byte("{{range .Links}"), 0644); err != nil {
		t.Fatal(err)
	}
	r, out := newRenderer(t, tmplPath)
	if err := r.RenderFile(summaries()); err == nil {
		t.Fatal("模板错误应返回错误")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("失败时不应生成首页")
	}
}

func TestRenderEmpty(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`{{len .Links}}`))
	var buf bytes.Buffer
	if err := Render(&buf, tmpl, Page{}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0" {
		t.Errorf("got %q", buf.String())
	}
}

func TestNewBadFormat(t *testing.T) {
	if _, err := New("", "", "%Q"); err == nil {
		t.Error("未知的 strftime 格式应返回错误")
	}
}
