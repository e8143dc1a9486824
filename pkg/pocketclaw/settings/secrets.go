// Package settings – secrets.go seals the provider credential before it is
// written to the config table. Values are AES-256-GCM encrypted with a key
// derived by Argon2id from a master secret that never touches the database.
//
// Master secret resolution order:
//  1. POCKETCLAW_MASTER_KEY environment variable
//  2. OS keyring (service "pocketclaw", key "master_key")
//  3. <data dir>/master.key (created with mode 0600)
//
// When none exists a random secret is generated and stored in the keyring,
// or in the key file if the keyring is unavailable.
package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

const (
	// MasterKeyEnv overrides the keyring and key file.
	MasterKeyEnv = "POCKETCLAW_MASTER_KEY"

	keyringService = "pocketclaw"
	keyringMaster  = "master_key"
	masterKeyFile  = "master.key"

	sealedPrefix = "v1:"

	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	saltLen = 16
)

// ErrCredentialUnreadable means a sealed value could not be opened: wrong
// master secret, tampering, or a foreign format.
var ErrCredentialUnreadable = errors.New("stored credential cannot be decrypted")

// Sealer encrypts and decrypts credentials with one master secret.
type Sealer struct {
	master []byte
}

// NewSealer creates a sealer for the given master secret.
func NewSealer(master string) (*Sealer, error) {
	if master == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	return &Sealer{master: []byte(master)}, nil
}

// Seal encrypts plaintext. Each call uses a fresh salt and nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	gcm, err := s.gcm(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	buf := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = gcm.Seal(buf, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

// Open decrypts a value produced by Seal. Every failure wraps
// ErrCredentialUnreadable.
func (s *Sealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", fmt.Errorf("%w: unknown format", ErrCredentialUnreadable)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnreadable, err)
	}
	if len(raw) < saltLen {
		return "", fmt.Errorf("%w: truncated", ErrCredentialUnreadable)
	}
	gcm, err := s.gcm(raw[:saltLen])
	if err != nil {
		return "", err
	}
	rest := raw[saltLen:]
	if len(rest) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: truncated", ErrCredentialUnreadable)
	}
	plain, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnreadable, err)
	}
	return string(plain), nil
}

func (s *Sealer) gcm(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(s.master, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// ResolveMasterKey finds (or creates) the master secret. dataDir holds the
// fallback key file.
func ResolveMasterKey(dataDir string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if v := os.Getenv(MasterKeyEnv); v != "" {
		return v, nil
	}
	if v, err := keyring.Get(keyringService, keyringMaster); err == nil && v != "" {
		return v, nil
	}

	path := filepath.Join(dataDir, masterKeyFile)
	if data, err := os.ReadFile(path); err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	master := hex.EncodeToString(buf)

	if err := keyring.Set(keyringService, keyringMaster, master); err == nil {
		logger.Info("master key stored in OS keyring")
		return master, nil
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(master+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing master key file: %w", err)
	}
	logger.Warn("OS keyring unavailable, master key written to file", "path", path)
	return master, nil
}

// ReadSecret reads a secret from the terminal without echoing.
// Falls back to a plain stdin read when stdin is not a terminal.
func ReadSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	var (
		secret []byte
		err    error
	)
	if term.IsTerminal(fd) {
		secret, err = term.ReadPassword(fd)
		fmt.Println()
	} else {
		var buf [4096]byte
		var n int
		n, err = os.Stdin.Read(buf[:])
		secret = buf[:n]
	}
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimRight(string(secret), "\r\n"), nil
}
