// Package secrets stores archive passwords and SMTP/service-account
// credential material AES-256-GCM-encrypted at rest. The encryption key
// lives in the OS keyring by default, or is derived via Argon2id from a
// passphrase for headless environments (METACAM_SECRETS_PASSPHRASE).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

const (
	keyringService = "metacam-ingest"
	keyringAccount = "vault-key"
	keySize        = 32 // AES-256
	saltSize       = 16
)

// Data is the plaintext content of the vault, marshaled to YAML before
// encryption. Fields are exported only so yaml.v3 can (un)marshal them;
// callers use Vault's accessor methods, never Data directly.
type Data struct {
	ArchivePasswords  []string `yaml:"archive_passwords"`
	SMTPPassword      string   `yaml:"smtp_password"`
	ServiceAccountKey string   `yaml:"service_account_key"` // base64
}

// Vault is an encrypted-at-rest secret store backed by a single file.
type Vault struct {
	path string
	key  [keySize]byte
	data Data
}

// Open loads and decrypts the vault at path, resolving the encryption
// key from the OS keyring or, if passphrase is non-empty, deriving it
// via Argon2id instead. A missing vault file yields an empty Vault
// ready to be populated and saved.
func Open(path string, passphrase string) (*Vault, error) {
	key, salt, err := resolveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolving encryption key: %w", err)
	}

	v := &Vault{path: path, key: key}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: reading vault: %w", err)
	}

	plaintext, err := decrypt(key, raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypting vault (wrong passphrase or corrupted file): %w", err)
	}
	if err := yaml.Unmarshal(plaintext, &v.data); err != nil {
		return nil, fmt.Errorf("secrets: parsing vault contents: %w", err)
	}
	_ = salt
	return v, nil
}

// resolveKey returns the vault's AES-256 key. With a non-empty
// passphrase it derives the key via Argon2id using a fixed
// application-level salt (deterministic per-passphrase, so the same
// passphrase always yields the same key without needing to persist a
// salt). Otherwise it fetches or creates a
// random key in the OS keyring.
func resolveKey(passphrase string) (key [keySize]byte, salt []byte, err error) {
	if passphrase != "" {
		salt = []byte("metacam-ingest-secrets-vault-v1") // fixed application-level salt, not secret
		derived := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, keySize)
		copy(key[:], derived)
		return key, salt, nil
	}

	stored, err := keyring.Get(keyringService, keyringAccount)
	if err == nil {
		decoded, decErr := base64.StdEncoding.DecodeString(stored)
		if decErr != nil || len(decoded) != keySize {
			return key, nil, fmt.Errorf("keyring entry is malformed")
		}
		copy(key[:], decoded)
		return key, nil, nil
	}
	if err != keyring.ErrNotFound {
		return key, nil, fmt.Errorf("reading OS keyring: %w", err)
	}

	if _, randErr := rand.Read(key[:]); randErr != nil {
		return key, nil, fmt.Errorf("generating vault key: %w", randErr)
	}
	encoded := base64.StdEncoding.EncodeToString(key[:])
	if setErr := keyring.Set(keyringService, keyringAccount, encoded); setErr != nil {
		return key, nil, fmt.Errorf("writing key to OS keyring: %w", setErr)
	}
	return key, nil, nil
}

// Save encrypts and atomically writes the vault contents to disk.
func (v *Vault) Save() error {
	plaintext, err := yaml.Marshal(v.data)
	if err != nil {
		return fmt.Errorf("secrets: marshaling vault contents: %w", err)
	}
	ciphertext, err := encrypt(v.key, plaintext)
	if err != nil {
		return fmt.Errorf("secrets: encrypting vault: %w", err)
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("secrets: creating vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("secrets: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("secrets: writing temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("secrets: chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("secrets: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("secrets: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("secrets: renaming temp file into place: %w", err)
	}
	return nil
}

// ArchivePasswords returns the ordered list of candidate archive
// passwords, most-recently-added first.
func (v *Vault) ArchivePasswords() []string {
	out := make([]string, len(v.data.ArchivePasswords))
	copy(out, v.data.ArchivePasswords)
	return out
}

// AddArchivePassword prepends a new candidate password if not already present.
func (v *Vault) AddArchivePassword(password string) {
	for _, p := range v.data.ArchivePasswords {
		if p == password {
			return
		}
	}
	v.data.ArchivePasswords = append([]string{password}, v.data.ArchivePasswords...)
}

// SMTPPassword returns the stored SMTP password, or "" if unset.
func (v *Vault) SMTPPassword() string {
	return v.data.SMTPPassword
}

// SetSMTPPassword replaces the stored SMTP password.
func (v *Vault) SetSMTPPassword(password string) {
	v.data.SMTPPassword = password
}

// ServiceAccountKey returns the decoded service-account key material, or
// nil if unset.
func (v *Vault) ServiceAccountKey() ([]byte, error) {
	if v.data.ServiceAccountKey == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(v.data.ServiceAccountKey)
}

// SetServiceAccountKey stores raw service-account key material.
func (v *Vault) SetServiceAccountKey(key []byte) {
	v.data.ServiceAccountKey = base64.StdEncoding.EncodeToString(key)
}

func encrypt(key [keySize]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key [keySize]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
