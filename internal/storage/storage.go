// Package storage はアップロード画像の保存先を抽象化する。
// ローカルディレクトリとS3互換オブジェクトストレージの2つの実装を持つ。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound は指定されたオブジェクトが存在しないことを表す。
var ErrNotFound = errors.New("stored object not found")

// Storage は画像ファイルの保存・読み出し・削除のインターフェース。
// Saveが返す参照文字列をOpenとDeleteに渡す。
type Storage interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// validateName はオブジェクト名がディレクトリを含まない単一の名前であることを検証する。
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid object name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("object name must not contain path separators: %q", name)
	}
	return nil
}
