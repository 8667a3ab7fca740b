package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIO 存储不可访问或读写失败 / The store location is inaccessible or an I/O call failed
	ErrIO = errors.New("store i/o error")
	// ErrFormat 文件不是数据库或 schema 不兼容 / Not a database, or an incompatible schema
	ErrFormat = errors.New("store format error")
	// ErrNotFound 记录不存在 / No record with the given id
	ErrNotFound = errors.New("session not found")
)

func ioErr(op string, err error) error {
	if isFormatFailure(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrFormat, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

func formatErr(op string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrFormat, fmt.Sprintf(format, args...))
}

// isFormatFailure reports whether the driver rejected the file itself
// (SQLITE_NOTADB / SQLITE_CORRUPT) rather than failing to reach it.
func isFormatFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "sqlite_notadb") ||
		strings.Contains(msg, "sqlite_corrupt")
}
