package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore хранит загруженные объекты на локальном диске.
// Ключ объекта отображается в путь внутри базовой директории;
// запись идёт через временный файл с последующим rename, чтобы
// частично загруженный объект никогда не был виден под финальным ключом.
type BlobStore struct {
	dir string
}

// NewBlobStore creates a blob store rooted at dir
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put записывает объект и возвращает его SHA-256 и размер
func (b *BlobStore) Put(key string, r io.Reader) (string, int64, error) {
	path, err := b.path(key)
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write object: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("failed to sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("failed to rename object: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// Open открывает объект для чтения
func (b *BlobStore) Open(key string) (io.ReadCloser, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	return f, nil
}

// Remove удаляет объект (например, при несовпадении хеша)
func (b *BlobStore) Remove(key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove object: %w", err)
	}

	return nil
}

// path преобразует ключ объекта в путь, запрещая выход за базовую директорию
func (b *BlobStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(b.dir, filepath.FromSlash(key)), nil
}
