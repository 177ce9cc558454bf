package snapshot

import (
	"bytes"
	"encoding/xml"
	"io"
	"sort"

	"github.com/iabetor/feedfuse/internal/atomicfile"
)

// WriteTo 把 Channel 序列化为完整的订阅源文档。
func (c *Channel) WriteTo(w io.Writer) (int64, error) {
	var total int64
	write := func(p []byte) error {
		n, err := w.Write(p)
		total += int64(n)
		return err
	}

	if err := write(c.head); err != nil {
		return total, err
	}
	for _, it := range c.items {
		lead := c.indent
		if it.doc == c.doc && it.lead != nil {
			lead = it.lead
		}
		if err := write(lead); err != nil {
			return total, err
		}
		if err := write(c.itemBytes(it)); err != nil {
			return total, err
		}
	}
	if err := write(c.closing); err != nil {
		return total, err
	}
	if err := write(c.tail); err != nil {
		return total, err
	}
	return total, nil
}

// itemBytes 返回条目的原始字节。条目依赖的命名空间在本文档中没有相同的声明时，
// 把声明补到条目的开始标签上，保证输出仍是命名空间正确的 XML。
func (c *Channel) itemBytes(it Item) []byte {
	var missing []string
	for prefix, uri := range it.ns {
		if c.scope[prefix] != uri {
			missing = append(missing, prefix)
		}
	}
	if len(missing) == 0 {
		return it.Raw
	}
	sort.Strings(missing)

	i := nameEnd(it.Raw)
	var b bytes.Buffer
	b.Grow(len(it.Raw) + 64*len(missing))
	b.Write(it.Raw[:i])
	for _, prefix := range missing {
		b.WriteString(" xmlns")
		if prefix != "" {
			b.WriteString(":" + prefix)
		}
		b.WriteString(`="`)
		xml.EscapeText(&b, []byte(it.ns[prefix]))
		b.WriteByte('"')
	}
	b.Write(it.Raw[i:])
	return b.Bytes()
}

// nameEnd 返回开始标签中元素名之后的位置。
func nameEnd(raw []byte) int {
	i := 1
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '>' && raw[i] != '/' {
		i++
	}
	return i
}

// Bytes 返回序列化后的文档。
func (c *Channel) Bytes() []byte {
	var buf bytes.Buffer
	c.WriteTo(&buf)
	return buf.Bytes()
}

// WriteFile 把 Channel 写入 path，覆盖已有文件。
// 先写临时文件再 rename，写入中途失败不会损坏原文件。
func WriteFile(path string, c *Channel) error {
	err := atomicfile.WriteFile(path, 0644, func(w io.Writer) error {
		_, err := c.WriteTo(w)
		return err
	})
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
