// Package snapshot 负责读取、定位和写回订阅源快照文件。
//
// 条目以原始字节保存，写回时逐字节输出。追加到其他文档的条目只会在开始标签上
// 补充它依赖、而目标文档没有声明的命名空间。
package snapshot

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/net/html/charset"
)

// Format 快照的文档格式。
type Format string

const (
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
)

const utf8Declaration = `<?xml version="1.0" encoding="UTF-8"?>`

// Item 快照中的一个条目。
type Item struct {
	// Title 为 nil 表示条目没有 title 元素。
	Title   *string
	PubDate string
	Link    string
	GUID    string
	// Raw 是条目元素的完整原始字节。
	Raw []byte
	// Source 条目来自哪个文件。
	Source string

	doc  *document
	lead []byte            // 原文档中条目之前的内容（空白、注释、其他子元素）
	ns   map[string]string // 条目使用、由祖先元素声明的命名空间前缀
}

// document 标识条目来自哪一次解析。
type document struct{ path string }

// TitleText 返回标题文本，没有标题时返回空字符串。
func (it Item) TitleText() string {
	if it.Title == nil {
		return ""
	}
	return *it.Title
}

// Snapshot 一个快照文件的解析结果。
type Snapshot struct {
	Path    string
	Channel *Channel
	Items   []Item
}

// Channel 订阅源容器（RSS 的 channel 或 Atom 的 feed）。
// 元数据原样保留，条目列表只能通过 WithItems 整体替换。
//
// 本文档自己的条目写回时保留它们之间的原始内容，包括注释和夹在条目之间的
// 非条目子元素；来自其他文档的条目以 indent 分隔，追加在本文档最后一个条目之后。
type Channel struct {
	Format      Format
	Title       string
	Link        string
	Description string

	doc     *document
	scope   map[string]string // 容器位置生效的命名空间声明，"" 为默认命名空间
	head    []byte            // 第一个条目之前的全部内容
	indent  []byte            // 追加条目之前使用的空白
	closing []byte            // 最后一个条目与结束标签之间的内容
	tail    []byte            // 容器结束标签及之后的内容
	items   []Item
}

// Items 返回条目列表的副本。
func (c *Channel) Items() []Item {
	return append([]Item(nil), c.items...)
}

// Len 返回条目数量。
func (c *Channel) Len() int { return len(c.items) }

// WithItems 返回一个元数据相同、条目为 items 的新 Channel，原 Channel 不变。
func (c *Channel) WithItems(items []Item) *Channel {
	n := *c
	n.items = append([]Item(nil), items...)
	return &n
}

// Load 读取并解析 path 处的快照。
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedFeedError{Path: path, Reason: "无法读取文件", Err: err}
	}
	return Parse(path, data)
}

// Parse 解析内存中的快照文档，path 只用于错误信息和 Item.Source。
func Parse(path string, data []byte) (*Snapshot, error) {
	data, err := toUTF8(data)
	if err != nil {
		return nil, &MalformedFeedError{Path: path, Reason: "字符集转换失败", Err: err}
	}

	d := xml.NewDecoder(bytes.NewReader(data))
	// 数据已经是 UTF-8，声明里的编码名只需要被接受。
	d.CharsetReader = func(label string, in io.Reader) (io.Reader, error) { return in, nil }

	doc := &document{path: path}
	var (
		ch               = &Channel{doc: doc}
		items            []Item
		scope            map[string]string
		depth            int
		rootSeen         bool
		containerDepth   = -1
		containerSpace   string
		containerName    string
		containerOpenEnd = -1
		entryTag         string
		firstItem        = -1
		lastEnd          = -1
		closeStart       = -1
		childIndent      []byte
	)

	for {
		off := int(d.InputOffset())
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedFeedError{Path: path, Reason: "XML 解析失败", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				rootSeen = true
				scope = declare(scope, t)
				if t.Name.Local == "feed" {
					containerDepth, entryTag, ch.Format = 1, "entry", FormatAtom
					containerSpace, containerName = t.Name.Space, t.Name.Local
					containerOpenEnd = int(d.InputOffset())
				}
			case depth == 2 && containerDepth < 0 && t.Name.Local == "channel":
				containerDepth, entryTag, ch.Format = 2, "item", FormatRSS
				containerSpace, containerName = t.Name.Space, t.Name.Local
				scope = declare(scope, t)
				containerOpenEnd = int(d.InputOffset())
			case containerDepth > 0 && depth == containerDepth+1 && closeStart < 0:
				childIndent = leadingSpace(data, off)
				switch {
				case t.Name.Local == entryTag:
					it, err := readItem(d, t)
					if err != nil {
						return nil, &MalformedFeedError{Path: path, Reason: "条目解析失败", Err: err}
					}
					end := int(d.InputOffset())
					it.Raw = bytes.Clone(data[off:end])
					it.Source = path
					it.doc = doc
					it.ns = bindings(it.Raw, scope)
					if firstItem < 0 {
						firstItem = off
						it.lead = bytes.Clone(leadingSpace(data, off))
					} else {
						it.lead = bytes.Clone(data[lastEnd:off])
					}
					items = append(items, it)
					lastEnd = end
				case firstItem >= 0:
					// 条目之间的其他子元素留在下一个条目的 lead 或 closing 里
					if err := d.Skip(); err != nil {
						return nil, &MalformedFeedError{Path: path, Reason: "XML 解析失败", Err: err}
					}
				default:
					if err := readMetadata(d, t, containerSpace, ch); err != nil {
						return nil, &MalformedFeedError{Path: path, Reason: "XML 解析失败", Err: err}
					}
				}
				// 子元素已被完整读取（包括结束标签）
				depth--
			}
		case xml.EndElement:
			if depth == containerDepth && closeStart < 0 {
				closeStart = off
			}
			depth--
		}
	}

	if !rootSeen {
		return nil, &MalformedFeedError{Path: path, Reason: "文档没有根元素"}
	}
	if containerDepth < 0 || closeStart < 0 {
		return nil, &MalformedFeedError{Path: path, Reason: "缺少 channel 容器"}
	}

	if closeStart == containerOpenEnd && bytes.HasSuffix(data[:closeStart], []byte("/>")) {
		// <channel/>：展开成一对标签，以便追加条目。
		rest := data[closeStart:]
		expanded := make([]byte, 0, len(data)+len(containerName)+3)
		expanded = append(expanded, data[:closeStart-2]...)
		expanded = append(expanded, '>')
		closeStart = len(expanded)
		expanded = append(expanded, "</"+containerName+">"...)
		expanded = append(expanded, rest...)
		data = expanded
	}

	if firstItem >= 0 {
		ch.indent = leadingSpace(data, firstItem)
		ch.head = bytes.Clone(data[:firstItem-len(ch.indent)])
		ch.closing = bytes.Clone(data[lastEnd:closeStart])
	} else {
		ch.closing = leadingSpace(data, closeStart)
		ch.head = bytes.Clone(data[:closeStart-len(ch.closing)])
		ch.indent = childIndent
		if len(ch.indent) == 0 {
			ch.indent = append(bytes.Clone(ch.closing), "  "...)
			if len(ch.closing) == 0 {
				ch.indent = []byte("\n")
			}
		}
		ch.closing = bytes.Clone(ch.closing)
	}
	ch.indent = bytes.Clone(ch.indent)
	ch.tail = bytes.Clone(data[closeStart:])
	ch.scope = scope
	ch.items = items

	return &Snapshot{Path: path, Channel: ch, Items: append([]Item(nil), items...)}, nil
}

// readItem 读取一个条目的标识字段，调用返回时条目结束标签已被消费。
func readItem(d *xml.Decoder, start xml.StartElement) (Item, error) {
	var (
		it        Item
		published string
		updated   string
	)
	for {
		tok, err := d.Token()
		if err != nil {
			return it, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != "" && t.Name.Space != start.Name.Space {
				if err := d.Skip(); err != nil {
					return it, err
				}
				continue
			}
			var target *string
			switch t.Name.Local {
			case "title":
				if it.Title == nil {
					s := ""
					it.Title = &s
					target = it.Title
				}
			case "pubDate":
				target = &it.PubDate
			case "published":
				target = &published
			case "updated":
				target = &updated
			case "guid", "id":
				target = &it.GUID
			case "link":
				if href := attr(t, "href"); href != "" {
					if rel := attr(t, "rel"); it.Link == "" && (rel == "" || rel == "alternate") {
						it.Link = href
					}
				} else if it.Link == "" {
					target = &it.Link
				}
			}
			if target == nil {
				if err := d.Skip(); err != nil {
					return it, err
				}
				continue
			}
			if err := d.DecodeElement(target, &t); err != nil {
				return it, err
			}
		case xml.EndElement:
			if it.PubDate == "" {
				it.PubDate = published
			}
			if it.PubDate == "" {
				it.PubDate = updated
			}
			it.PubDate = strings.TrimSpace(it.PubDate)
			it.Link = strings.TrimSpace(it.Link)
			it.GUID = strings.TrimSpace(it.GUID)
			return it, nil
		}
	}
}

// readMetadata 读取第一个条目之前的容器子元素，只提取展示用的字段。
func readMetadata(d *xml.Decoder, t xml.StartElement, space string, ch *Channel) error {
	if t.Name.Space != "" && t.Name.Space != space {
		return d.Skip()
	}
	var target *string
	switch t.Name.Local {
	case "title":
		target = &ch.Title
	case "description", "subtitle":
		target = &ch.Description
	case "link":
		if href := attr(t, "href"); href != "" {
			if ch.Link == "" && (attr(t, "rel") == "" || attr(t, "rel") == "alternate") {
				ch.Link = href
			}
		} else if ch.Link == "" {
			target = &ch.Link
		}
	}
	if target == nil || *target != "" {
		return d.Skip()
	}
	var s string
	if err := d.DecodeElement(&s, &t); err != nil {
		return err
	}
	*target = strings.TrimSpace(s)
	return nil
}

// declare 返回在 parent 基础上叠加 t 的命名空间声明后的作用域，parent 不变。
func declare(parent map[string]string, t xml.StartElement) map[string]string {
	scope := make(map[string]string, len(parent)+len(t.Attr))
	for k, v := range parent {
		scope[k] = v
	}
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == "xmlns":
			scope[a.Name.Local] = a.Value
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			scope[""] = a.Value
		}
	}
	return scope
}

// bindings 找出 raw 中使用了、但没有在 raw 内部声明的命名空间前缀，
// 并从 scope 取出它们的 URI。无前缀的元素对应默认命名空间 ""。
func bindings(raw []byte, scope map[string]string) map[string]string {
	d := xml.NewDecoder(bytes.NewReader(raw))
	var (
		open [][]string // 每层打开的元素上声明的前缀
		used = make(map[string]bool)
	)
	declared := func(prefix string) bool {
		for _, decl := range open {
			if slices.Contains(decl, prefix) {
				return true
			}
		}
		return false
	}
	for {
		tok, err := d.RawToken()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var decl []string
			for _, a := range t.Attr {
				switch {
				case a.Name.Space == "xmlns":
					decl = append(decl, a.Name.Local)
				case a.Name.Space == "" && a.Name.Local == "xmlns":
					decl = append(decl, "")
				}
			}
			open = append(open, decl)
			if !declared(t.Name.Space) {
				used[t.Name.Space] = true
			}
			for _, a := range t.Attr {
				if a.Name.Space != "" && a.Name.Space != "xmlns" && !declared(a.Name.Space) {
					used[a.Name.Space] = true
				}
			}
		case xml.EndElement:
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
	}

	var out map[string]string
	for prefix := range used {
		if prefix == "xml" || prefix == "xmlns" {
			continue
		}
		uri, ok := scope[prefix]
		if !ok && prefix != "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[prefix] = uri
	}
	return out
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// leadingSpace 返回 data[:off] 末尾的连续空白。
func leadingSpace(data []byte, off int) []byte {
	i := off
	for i > 0 && isSpace(data[i-1]) {
		i--
	}
	return data[i:off]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// toUTF8 把声明了非 UTF-8 编码的文档转换为 UTF-8，并改写 XML 声明。
func toUTF8(data []byte) ([]byte, error) {
	enc := declaredEncoding(data)
	switch strings.ToLower(enc) {
	case "", "utf-8", "utf8":
		return data, nil
	}
	r, err := charset.NewReaderLabel(enc, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	start := bytes.Index(out, []byte("<?xml"))
	end := bytes.Index(out, []byte("?>"))
	if start < 0 || end < start {
		return out, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(out))
	buf.Write(out[:start])
	buf.WriteString(utf8Declaration)
	buf.Write(out[end+2:])
	return buf.Bytes(), nil
}

// declaredEncoding 读取 XML 声明中的 encoding 属性。
func declaredEncoding(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = func(label string, in io.Reader) (io.Reader, error) { return in, nil }
	tok, err := d.RawToken()
	if err != nil {
		return ""
	}
	pi, ok := tok.(xml.ProcInst)
	if !ok || pi.Target != "xml" {
		return ""
	}
	content := string(pi.Inst)
	idx := strings.Index(content, "encoding=")
	if idx < 0 {
		return ""
	}
	v := content[idx+len("encoding="):]
	if v == "" {
		return ""
	}
	q := v[0]
	if q != '"' && q != '\'' {
		return ""
	}
	v = v[1:]
	if end := strings.IndexByte(v, q); end >= 0 {
		return v[:end]
	}
	return ""
}
