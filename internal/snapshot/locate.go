package snapshot

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Locate 递归查找 dir 下文件名匹配 pattern 的文件，按文件名降序返回（新的在前）。
//
// 文件名需要能按字典序反映时间先后，例如 2021-06-01.xml。
// dir 不存在或没有匹配文件时返回空结果而不是错误。
func Locate(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var matches []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, _ := filepath.Match(pattern, d.Name())
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		bi, bj := filepath.Base(matches[i]), filepath.Base(matches[j])
		if bi != bj {
			return bi > bj
		}
		return matches[i] > matches[j]
	})
	return matches, nil
}
