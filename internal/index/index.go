// Package index 根据合并汇总生成静态首页。
package index

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/iabetor/feedfuse/internal/aggregate"
	"github.com/iabetor/feedfuse/internal/atomicfile"
	"github.com/iabetor/feedfuse/internal/logger"
)

//go:embed template.html
var defaultTemplate string

// Link 首页上的一行。
type Link struct {
	Name        string
	URL         string
	FeedTitle   string
	NumEntries  int
	Target      string
	TimeUpdated string
	Newest      string
	// Delta 与上一次运行相比的条目变化，例如 "+3"，没有历史或没有变化时为空。
	Delta string
}

// Page 模板数据。
type Page struct {
	Links     []Link
	Generated string
}

// Renderer 生成首页文件。
type Renderer struct {
	templatePath string
	outputPath   string
	format       *strftime.Strftime
	now          func() time.Time
}

// New 创建 Renderer。templatePath 不存在时使用内置模板。
func New(templatePath, outputPath, datetimeFormat string) (*Renderer, error) {
	f, err := strftime.New(datetimeFormat)
	if err != nil {
		return nil, fmt.Errorf("时间格式 %q 无效: %w", datetimeFormat, err)
	}
	return &Renderer{
		templatePath: templatePath,
		outputPath:   outputPath,
		format:       f,
		now:          time.Now,
	}, nil
}

// Links 把汇总记录转换为首页行，保持原顺序。
func (r *Renderer) Links(summaries []aggregate.Summary) []Link {
	links := make([]Link, 0, len(summaries))
	for _, s := range summaries {
		l := Link{
			Name:        s.Name,
			URL:         s.URL,
			FeedTitle:   s.FeedTitle,
			NumEntries:  s.NumEntries,
			Target:      s.Target,
			TimeUpdated: r.formatTime(s.TimeUpdated),
			Newest:      r.formatTime(s.Newest),
		}
		if s.HasPrev && s.NumEntries != s.PrevEntries {
			l.Delta = fmt.Sprintf("%+d", s.NumEntries-s.PrevEntries)
		}
		links = append(links, l)
	}
	return links
}

func (r *Renderer) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return r.format.FormatString(t)
}

// Template 读取模板文件，文件不存在时返回内置模板。
func (r *Renderer) Template() (*template.Template, error) {
	data, err := os.ReadFile(r.templatePath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debugf("[index] 模板 %s 不存在，使用内置模板", r.templatePath)
		return template.New("index").Parse(defaultTemplate)
	}
	if err != nil {
		return nil, fmt.Errorf("读取模板失败: %w", err)
	}
	tmpl, err := template.New("index").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("解析模板 %s 失败: %w", r.templatePath, err)
	}
	return tmpl, nil
}

// Render 执行模板，是输入的纯函数。
func Render(w io.Writer, tmpl *template.Template, page Page) error {
	return tmpl.Execute(w, page)
}

// RenderFile 生成首页并原子写入输出路径。
func (r *Renderer) RenderFile(summaries []aggregate.Summary) error {
	tmpl, err := r.Template()
	if err != nil {
		return err
	}
	page := Page{
		Links:     r.Links(summaries),
		Generated: r.formatTime(r.now()),
	}
	err = atomicfile.WriteFile(r.outputPath, 0644, func(w io.Writer) error {
		return Render(w, tmpl, page)
	})
	if err != nil {
		return fmt.Errorf("生成首页 %s 失败: %w", r.outputPath, err)
	}
	logger.Infof("[index] 已生成 %s (%d 个订阅源)", r.outputPath, len(page.Links))
	return nil
}
