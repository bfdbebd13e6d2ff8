// Package blob 头像对象存储，底层是 afero 文件系统，生产用 OsFs，测试用 MemMapFs
package blob

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"binancedash/internal/config"

	"github.com/spf13/afero"
)

type Store struct {
	fs            afero.Fs
	bucket        string
	publicBaseURL string
}

// NewStore 在 root 目录下创建存储，所有对象位于 <root>/<bucket>/ 下
func NewStore(base afero.Fs, cfg *config.StorageConfig) (*Store, error) {
	fs := afero.NewBasePathFs(base, cfg.Root)
	if err := fs.MkdirAll(cfg.Bucket, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &Store{
		fs:            fs,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload 写入对象，已存在则覆盖，返回公开访问地址
func (s *Store) Upload(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	name := path.Join(s.bucket, key)
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return "", fmt.Errorf("写入对象失败: %w", err)
	}
	return s.PublicURL(key), nil
}

// Delete 删除对象，不存在视为成功
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(path.Join(s.bucket, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除对象失败: %w", err)
	}
	return nil
}

func (s *Store) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
}

// FileSystem 供静态路由直接读取，根目录即存储根。
// 目录一律按不存在处理，公开路由不能列出用户 ID 和文件名
func (s *Store) FileSystem() http.FileSystem {
	return filesOnly{afero.NewHttpFs(s.fs).Dir("/")}
}

type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

// cleanKey 拒绝越出存储根的 key
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("非法的对象名: %q", key)
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
