// Package atomicfile 先写临时文件再 rename 到目标路径，避免留下写了一半的文件。
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer 写入同目录下的临时文件，Commit 时原子替换目标文件。
type Writer struct {
	file *os.File
	path string
	perm os.FileMode
}

// Create 在 path 所在目录创建临时文件。
func Create(path string, perm os.FileMode) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, path: path, perm: perm}, nil
}

// Write 写入数据到临时文件。
func (w *Writer) Write(p []byte) (int, error) {
	if w.file == nil {
		return 0, os.ErrClosed
	}
	return w.file.Write(p)
}

// Commit 刷盘、关闭临时文件并 rename 到最终路径。
func (w *Writer) Commit() error {
	if w.file == nil {
		return os.ErrClosed
	}
	tmp := w.file.Name()
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	if err == nil {
		err = os.Chmod(tmp, w.perm)
	}
	if err == nil {
		err = os.Rename(tmp, w.path)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}

// Abort 放弃写入，关闭并删除临时文件。Commit 之后调用无副作用。
func (w *Writer) Abort() {
	if w.file != nil {
		tmp := w.file.Name()
		w.file.Close()
		os.Remove(tmp)
		w.file = nil
	}
}

// WriteFile 用 fn 生成内容并原子写入 path。
func WriteFile(path string, perm os.FileMode, fn func(io.Writer) error) error {
	w, err := Create(path, perm)
	if err != nil {
		return err
	}
	defer w.Abort()
	if err := fn(w); err != nil {
		return err
	}
	return w.Commit()
}
