// Package feedtest 为测试生成 RSS 快照文件。
package feedtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// NoTitle 作为标题传给 RSS 时生成一个没有 title 元素的条目。
const NoTitle = "\x00"

var base = time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC)

// RSS 生成包含给定标题条目的 RSS 2.0 文档，条目按参数顺序排列。
func RSS(channel string, titles ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">` + "\n")
	b.WriteString("  <channel>\n")
	fmt.Fprintf(&b, "    <title>%s</title>\n", channel)
	b.WriteString("    <link>https://example.com</link>\n")
	fmt.Fprintf(&b, "    <description>%s snapshots</description>\n", channel)
	for i, title := range titles {
		b.WriteString("    <item>\n")
		if title != NoTitle {
			fmt.Fprintf(&b, "      <title>%s</title>\n", title)
		}
		fmt.Fprintf(&b, "      <link>https://example.com/%d</link>\n", i)
		fmt.Fprintf(&b, "      <pubDate>%s</pubDate>\n", base.Add(-time.Duration(i)*time.Hour).Format(time.RFC1123Z))
		b.WriteString("    </item>\n")
	}
	b.WriteString("  </channel>\n")
	b.WriteString("</rss>\n")
	return b.String()
}

// Atom 生成包含给定标题条目的 Atom 文档，条目按参数顺序排列。
func Atom(feed string, titles ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom">` + "\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", feed)
	b.WriteString(`  <link href="https://example.com" rel="alternate"/>` + "\n")
	for i, title := range titles {
		b.WriteString("  <entry>\n")
		if title != NoTitle {
			fmt.Fprintf(&b, "    <title>%s</title>\n", title)
		}
		fmt.Fprintf(&b, "    <id>https://example.com/%d</id>\n", i)
		fmt.Fprintf(&b, "    <updated>%s</updated>\n", base.Add(-time.Duration(i)*time.Hour).Format(time.RFC3339))
		b.WriteString("  </entry>\n")
	}
	b.WriteString("</feed>\n")
	return b.String()
}

// Write 把 content 写入 path，自动创建父目录。
func Write(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入 %s 失败: %v", path, err)
	}
}

// WriteRSS 在 path 写入 RSS(channel, titles...)。
func WriteRSS(t testing.TB, path, channel string, titles ...string) {
	t.Helper()
	Write(t, path, RSS(channel, titles...))
}
