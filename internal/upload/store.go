// Package upload はアップロードファイルをローカルディスクに保存する。
// 保存先ディレクトリは静的ファイルとしてURLプレフィックス配下で配信される。
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrOutsideStore は保存先の外を指すURLが渡されたことを表す。
var ErrOutsideStore = errors.New("file url is outside the upload store")

// StoredFile は保存済みファイルの情報。
type StoredFile struct {
	Name    string
	URL     string
	ModTime time.Time
	Size    int64
}

// LocalStore はアップロードファイルを<uuid>-<ファイル名>で保存する。
type LocalStore struct {
	dir       string
	urlPrefix string
	newID     func() string
}

// NewLocalStore はLocalStoreを生成する。urlPrefixの末尾の/は取り除く。
func NewLocalStore(dir, urlPrefix string) *LocalStore {
	return &LocalStore{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		newID:     uuid.NewString,
	}
}

// Dir は保存先ディレクトリを返す。
func (s *LocalStore) Dir() string {
	return s.dir
}

// URLPrefix は配信URLのプレフィックスを返す。
func (s *LocalStore) URLPrefix() string {
	return s.urlPrefix
}

// SanitizeFileName はパス区切りを取り除き、ファイル名部分だけを返す。
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// Save はrの内容をファイルに書き込み、配信URLを返す。
// ディレクトリが無ければ作成する。書き込みに失敗した場合は途中のファイルを削除する。
func (s *LocalStore) Save(ctx context.Context, fileName string, r io.Reader) (string, error) {
	base := SanitizeFileName(fileName)
	if base == "" {
		return "", fmt.Errorf("invalid file name: %q", fileName)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	name := s.newID() + "-" + base
	fullPath := filepath.Join(s.dir, name)

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}

	return s.urlPrefix + "/" + name, nil
}

// Remove は配信URLに対応するファイルを削除する。存在しない場合は何もしない。
func (s *LocalStore) Remove(ctx context.Context, fileURL string) error {
	name, err := s.nameFromURL(fileURL)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove upload file: %w", err)
	}
	return nil
}

// List は保存先ディレクトリ直下のファイルを返す。ディレクトリが無い場合は空を返す。
func (s *LocalStore) List(ctx context.Context) ([]StoredFile, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload dir: %w", err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, StoredFile{
			Name:    e.Name(),
			URL:     s.urlPrefix + "/" + e.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

func (s *LocalStore) nameFromURL(fileURL string) (string, error) {
	prefix := s.urlPrefix + "/"
	if !strings.HasPrefix(fileURL, prefix) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, fileURL)
	}
	name := strings.TrimPrefix(fileURL, prefix)
	if name == "" || SanitizeFileName(name) != name {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, fileURL)
	}
	return name, nil
}
