package auth

import (
	"crypto/rand"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Credentials is the record persisted by the vault. It never appears in logs.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
}

const saltSize = 16

// Vault stores OAuth credentials encrypted at rest. The key is derived from
// the configured passphrase with argon2id; the salt lives in a sibling file
// so the vault survives restarts but is useless without the passphrase.
type Vault struct {
	path string
	key  []byte
}

func NewVault(path, passphrase string) (*Vault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.WithStack(err)
	}

	saltPath := path + ".salt"
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, fs.ErrNotExist) {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, errors.WithStack(err)
		}
	} else if err != nil {
		return nil, errors.WithStack(err)
	} else if len(salt) != saltSize {
		return nil, errors.New("vault salt file is corrupt")
	}

	key := argon2.IDKey([]byte(passphrase), salt, 3, 64*1024, 4, chacha20poly1305.KeySize)

	return &Vault{path: path, key: key}, nil
}

// Load returns the stored credentials, or nil without error when the vault
// file doesn't exist yet. Decryption failures (wrong passphrase, tampered
// file) are returned as errors.
func (v *Vault) Load() (*Credentials, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("vault file is corrupt")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "vault decryption failed")
	}

	creds := &Credentials{}
	if err := json.Unmarshal(plaintext, creds); err != nil {
		return nil, errors.WithStack(err)
	}

	return creds, nil
}

func (v *Vault) Save(creds *Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return errors.WithStack(err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return errors.WithStack(err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.WithStack(err)
	}

	data := aead.Seal(nonce, nonce, plaintext, nil)
	err = os.WriteFile(v.path, data, 0600)
	return errors.WithStack(err)
}

// Clear removes the vault file. Missing files are not an error.
func (v *Vault) Clear() error {
	err := os.Remove(v.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.WithStack(err)
	}
	return nil
}
