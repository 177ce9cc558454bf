package snapshot

import "fmt"

// MalformedFeedError 快照无法读取、不是合法 XML，或者缺少 channel 容器。
type MalformedFeedError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedFeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("快照 %s 格式错误: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("快照 %s 格式错误: %s", e.Path, e.Reason)
}

func (e *MalformedFeedError) Unwrap() error { return e.Err }

// WriteError 输出文件无法写入。
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("写入 %s 失败: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
