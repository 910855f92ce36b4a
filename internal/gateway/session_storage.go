package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// SessionStorage は認証セッションの永続化先を抽象化する。
// 保存されたセッションがない場合、Load は nil, nil を返す。
type SessionStorage interface {
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	Clear(ctx context.Context) error
}

// MemorySessionStorage はプロセス内にのみセッションを保持する。
type MemorySessionStorage struct {
	mu      sync.Mutex
	session *model.Session
}

// compile-time interface check
var _ SessionStorage = (*MemorySessionStorage)(nil)

// NewMemorySessionStorage は空の MemorySessionStorage を生成する。
func NewMemorySessionStorage() *MemorySessionStorage {
	return &MemorySessionStorage{}
}

// Load は保持しているセッションのコピーを返す。
func (m *MemorySessionStorage) Load(_ context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

// Save はセッションのコピーを保持する。
func (m *MemorySessionStorage) Save(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.session = nil
		return nil
	}
	cp := *s
	m.session = &cp
	return nil
}

// Clear は保持しているセッションを破棄する。
func (m *MemorySessionStorage) Clear(_ context.Context) error {
	return m.Save(context.Background(), nil)
}

// FileSessionStorage はセッションをJSONファイルに保存する。
// CLIの各コマンド間でログイン状態を引き継ぐために使う。
type FileSessionStorage struct {
	path string
	mu   sync.Mutex
}

// compile-time interface check
var _ SessionStorage = (*FileSessionStorage)(nil)

// NewFileSessionStorage は指定パスに保存する FileSessionStorage を生成する。
func NewFileSessionStorage(path string) *FileSessionStorage {
	return &FileSessionStorage{path: path}
}

// DefaultSessionPath はユーザー設定ディレクトリ配下のセッションファイルパスを返す。
func DefaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(dir, "recipeshare", "session.json"), nil
}

// Load はファイルからセッションを読み込む。ファイルがなければ nil, nil を返す。
func (f *FileSessionStorage) Load(_ context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// Save はセッションを所有者のみ読み書き可能なファイルに書き込む。
func (f *FileSessionStorage) Save(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s == nil {
		return f.removeLocked()
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear はセッションファイルを削除する。
func (f *FileSessionStorage) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeLocked()
}

func (f *FileSessionStorage) removeLocked() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
