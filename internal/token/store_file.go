package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	matchgateErrors "matchgate/internal/errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	fileFormatVersion = 1
	saltSize          = 16
	scryptN           = 1 << 15
	scryptR           = 8
	scryptP           = 1
)

var fileAAD = []byte("matchgate-token-v1")

// fileEnvelope is the on-disk format. Exactly one of Ciphertext or Token is set.
type fileEnvelope struct {
	Version    int          `json:"version"`
	Encrypted  bool         `json:"encrypted"`
	Salt       string       `json:"salt,omitempty"`
	Nonce      string       `json:"nonce,omitempty"`
	Ciphertext string       `json:"ciphertext,omitempty"`
	Token      *AccessToken `json:"token,omitempty"`
}

// FileStore persists the token to a local file, encrypted with
// XChaCha20-Poly1305 when a passphrase is configured. Without a passphrase,
// or when sealing fails, it falls back to plaintext so the session survives.
type FileStore struct {
	path       string
	passphrase string
	logger     *matchgateErrors.Logger

	mu     sync.RWMutex
	cached *AccessToken
	loaded bool

	plaintextWarn sync.Once
}

// NewFileStore creates a store backed by path. No I/O happens until first use.
func NewFileStore(path, passphrase string, logger *matchgateErrors.Logger) *FileStore {
	if logger == nil {
		logger = matchgateErrors.Discard()
	}
	return &FileStore{path: path, passphrase: passphrase, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*AccessToken, error) {
	s.mu.RLock()
	if s.loaded {
		tok := s.cached
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cached, nil
	}

	tok, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.cached = tok
	s.loaded = true
	return tok, nil
}

func (s *FileStore) Save(_ context.Context, tok *AccessToken) error {
	if tok == nil {
		return s.Clear(context.Background())
	}

	envelope, err := s.seal(tok)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return matchgateErrors.NewStorageError(matchgateErrors.ErrCodeTokenStore, "failed to encode token file", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data); err != nil {
		return matchgateErrors.NewIOError(matchgateErrors.ErrCodeFileNotWritable, "failed to write token file", err).
			WithContext("path", s.path)
	}
	cp := *tok
	s.cached = &cp
	s.loaded = true
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return matchgateErrors.NewIOError(matchgateErrors.ErrCodeFileNotWritable, "failed to remove token file", err).
			WithContext("path", s.path)
	}
	return nil
}

// Invalidate drops the cached token so the next Load re-reads the file.
func (s *FileStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.loaded = false
	s.mu.Unlock()
}

func (s *FileStore) readFile() (*AccessToken, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, matchgateErrors.NewIOError(matchgateErrors.ErrCodeFileNotReadable, "failed to read token file", err).
			WithContext("path", s.path)
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, matchgateErrors.NewStorageError(matchgateErrors.ErrCodeInvalidFormat, "token file is corrupt", err).
			WithContext("path", s.path)
	}
	if envelope.Version != fileFormatVersion {
		return nil, matchgateErrors.NewStorageError(matchgateErrors.ErrCodeInvalidFormat,
			fmt.Sprintf("unsupported token file version %d", envelope.Version), nil)
	}

	if !envelope.Encrypted {
		return envelope.Token, nil
	}
	return s.open(envelope)
}

func (s *FileStore) seal(tok *AccessToken) (*fileEnvelope, error) {
	if s.passphrase == "" {
		s.plaintextWarn.Do(func() {
			s.logger.Warn("Token encryption key not configured, storing token unencrypted", "path", s.path)
		})
		return &fileEnvelope{Version: fileFormatVersion, Token: tok}, nil
	}

	plaintext, err := json.Marshal(tok)
	if err != nil {
		return nil, matchgateErrors.NewStorageError(matchgateErrors.ErrCodeTokenStore, "failed to encode token", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		s.logger.LogError(err, "Token encryption unavailable, storing token unencrypted")
		return &fileEnvelope{Version: fileFormatVersion, Token: tok}, nil
	}
	aead, err := s.aead(salt)
	if err != nil {
		s.logger.LogError(err, "Token encryption unavailable, storing token unencrypted")
		return &fileEnvelope{Version: fileFormatVersion, Token: tok}, nil
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		s.logger.LogError(err, "Token encryption unavailable, storing token unencrypted")
		return &fileEnvelope{Version: fileFormatVersion, Token: tok}, nil
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, fileAAD)
	return &fileEnvelope{
		Version:    fileFormatVersion,
		Encrypted:  true,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (s *FileStore) open(envelope fileEnvelope) (*AccessToken, error) {
	if s.passphrase == "" {
		return nil, matchgateErrors.NewAuthError(matchgateErrors.ErrCodeTokenDecrypt,
			"token file is encrypted but no encryption key is configured", nil)
	}

	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil {
		return nil, decryptError(err)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil {
		return nil, decryptError(err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, decryptError(err)
	}

	aead, err := s.aead(salt)
	if err != nil {
		return nil, decryptError(err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, decryptError(fmt.Errorf("nonce has %d bytes, want %d", len(nonce), aead.NonceSize()))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, fileAAD)
	if err != nil {
		return nil, decryptError(err)
	}

	var tok AccessToken
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return nil, decryptError(err)
	}
	return &tok, nil
}

func (s *FileStore) aead(salt []byte) (interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}, error) {
	key, err := scrypt.Key([]byte(s.passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

func decryptError(cause error) error {
	return matchgateErrors.NewAuthError(matchgateErrors.ErrCodeTokenDecrypt, "failed to decrypt token file", cause)
}

// writeFileAtomic writes data to a temp file in the same directory and renames
// it over path, so concurrent readers see either the old or the new file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
