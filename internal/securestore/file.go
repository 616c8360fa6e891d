package securestore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/emberwallet/core/internal/crypto"
	"github.com/emberwallet/core/internal/errs"
)

// FileStore keeps the whole key/value map in a single
// XChaCha20-Poly1305 encrypted file. Writes go through a temp file and
// rename, so the store is either the old state or the new one, never a
// torn mix.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte // 32-byte AEAD key derived from the device secret
	auth Authenticator
}

// NewFileStore derives the file key from the device secret via
// HKDF-SHA256 and binds the optional authenticator used by
// GetProtected. A nil authenticator makes protected reads fail.
func NewFileStore(path string, deviceSecret []byte, auth Authenticator) (*FileStore, error) {
	r := hkdf.New(sha256.New, deviceSecret, nil, []byte("securestore-file-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileStore{path: path, key: key, auth: auth}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *FileStore) GetProtected(ctx context.Context, key, reason string) ([]byte, error) {
	if s.auth == nil {
		return nil, errs.ErrAuthenticationRequired
	}
	if err := s.auth.Authenticate(ctx, reason); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrAuthenticationFailed, err)
	}
	return s.Get(ctx, key)
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = append([]byte(nil), value...)
	return s.save(m)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.DeleteAll(ctx, key)
}

func (s *FileStore) DeleteAll(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(m, k)
	}
	return s.save(m)
}

func (s *FileStore) load() (map[string][]byte, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("store file truncated")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt store: %w", err)
	}
	m := map[string][]byte{}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	return m, nil
}

func (s *FileStore) save(m map[string][]byte) error {
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce, err := crypto.RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plain, nil)...)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename store: %w", err)
	}
	return nil
}
