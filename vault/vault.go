// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package vault implements authenticated encryption of credential strings
// under a master key.
// Each secret is encrypted with AES-256-GCM under a key derived from the
// master key with PBKDF2-SHA256 and a per-secret random salt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	ivSize     = 12
	keySize    = 32
	iterations = 100_000
)

// ErrIntegrity is returned when the authentication tag check fails,
// either because the ciphertext was tampered with or because the wrong
// master key was used. It carries no detail about which.
var ErrIntegrity = errors.New("secret integrity check failed")

// Envelope is an encrypted secret as persisted by the secret store.
// Ciphertext includes the GCM authentication tag.
// The three fields are only meaningful together.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
}

// Vault encrypts and decrypts secrets under a fixed master key.
// The master key is copied at construction and never mutated,
// key rotation is done by constructing a new Vault.
// Vault is safe for concurrent use.
type Vault struct {
	masterKey []byte
}

func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("master key cannot be empty")
	}

	return &Vault{
		masterKey: append([]byte(nil), masterKey...),
	}, nil
}

// Encrypt encrypts plaintext with a fresh random salt and IV.
// Two calls with the same plaintext never produce the same envelope.
func (v *Vault) Encrypt(plaintext string) (Envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Envelope{}, fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}

	aead, err := v.aead(salt)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Ciphertext: aead.Seal(nil, iv, []byte(plaintext), nil),
		IV:         iv,
		Salt:       salt,
	}, nil
}

// Decrypt re-derives the key from the envelope salt and opens the ciphertext.
// Any tag or size mismatch is reported as ErrIntegrity, the error never
// contains plaintext or key material.
func (v *Vault) Decrypt(e Envelope) (string, error) {
	if len(e.Salt) != saltSize || len(e.IV) != ivSize {
		return "", ErrIntegrity
	}

	aead, err := v.aead(e.Salt)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, e.IV, e.Ciphertext, nil)
	if err != nil {
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.masterKey, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return aead, nil
}
