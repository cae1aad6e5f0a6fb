// Package crypto seals secrets stored in the configuration file.
//
// A sealed value looks like "enc:<base64>" where the payload is a random
// salt, a GCM nonce and the AES-256-GCM ciphertext. The key is derived from
// a passphrase with PBKDF2-SHA256. Values without the prefix are plain text
// and pass through Open unchanged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Prefix marks a sealed value
const Prefix = "enc:"

// PassphraseEnv names the environment variable holding the passphrase
const PassphraseEnv = "EVENTFEEDS_SECRET_KEY"

const (
	saltSize   = 16
	iterations = 100000
	keySize    = 32 // AES-256
)

// ErrNoPassphrase is returned when a sealed value is met without a passphrase
var ErrNoPassphrase = errors.New("sealed value but no passphrase set in " + PassphraseEnv)

// Encryptor seals and opens configuration secrets
type Encryptor struct {
	passphrase []byte
	random     io.Reader
}

// NewEncryptor creates an encryptor for passphrase. A nil encryptor opens
// plain values and rejects sealed ones.
func NewEncryptor(passphrase string) *Encryptor {
	if passphrase == "" {
		return nil
	}
	return &Encryptor{passphrase: []byte(passphrase), random: rand.Reader}
}

func (e *Encryptor) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext into a prefixed value
func (e *Encryptor) Seal(plaintext string) (string, error) {
	if e == nil {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(e.random, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	gcm, err := e.gcm(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(e.random, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	payload := append(salt, nonce...)
	payload = gcm.Seal(payload, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Open returns the plaintext of a sealed value, or value itself when it is
// not sealed
func (e *Encryptor) Open(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, Prefix)
	if !sealed {
		return value, nil
	}
	if e == nil {
		return "", ErrNoPassphrase
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	if len(data) < saltSize {
		return "", errors.New("sealed value too short")
	}
	gcm, err := e.gcm(data[:saltSize])
	if err != nil {
		return "", err
	}

	data = data[saltSize:]
	if len(data) < gcm.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("opening sealed value: wrong passphrase or corrupted data")
	}
	return string(plaintext), nil
}

// OpenAll opens every pointed-to value in place
func (e *Encryptor) OpenAll(values ...*string) error {
	for _, v := range values {
		if v == nil {
			continue
		}
		opened, err := e.Open(*v)
		if err != nil {
			return err
		}
		*v = opened
	}
	return nil
}
