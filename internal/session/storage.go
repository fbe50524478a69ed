package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// 永続化するキー名です。Cookie は保存しません。
const (
	KeyToken     = "sap_csrf_token"
	KeyPrincipal = "sap_username"
)

// Storage はクライアント側のキー・バリューストアです。
// 存在しないキーの Get は空文字を返します。
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryStorage はプロセス内だけで保持する Storage です。
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage は空の MemoryStorage を作成します。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStorage は JSON ファイルに保存する Storage です。
// 毎回ファイルを読み直すため、別プロセスの書き込みは後勝ちになります。
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage は path に保存する FileStorage を作成します。
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path は保存先のファイルパスを返します。
func (f *FileStorage) Path() string {
	return f.path
}

func (f *FileStorage) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

func (f *FileStorage) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		// 壊れたファイルは上書きする
		values = make(map[string]string)
	}
	values[key] = value
	return f.save(values)
}

func (f *FileStorage) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		values = make(map[string]string)
	}
	if _, ok := values[key]; !ok && err == nil {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

func (f *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", f.path, err)
	}
	return values, nil
}

// save は一時ファイルへの書き込みと fsync の後に置き換えるため、途中で落ちても
// 空のファイルは残りません。
func (f *FileStorage) save(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if err := renameio.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
