// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/saucelabs/relay/validation"
	"github.com/saucelabs/relay/vault"
	"go.etcd.io/bbolt"
)

var (
	usersBucket     = []byte("users")
	appsBucket      = []byte("apps")
	appSlugsBucket  = []byte("app_slugs")
	apiKeysBucket   = []byte("api_keys")
	ownerKeysBucket = []byte("owner_keys")
	secretsBucket   = []byte("secrets")
	flagsBucket     = []byte("flags")
)

// BoltDirectory is a bbolt-backed Directory and SecretStore.
//
// Buckets:
//   - users: id -> JSON User
//   - apps: id -> JSON App, app_slugs: slug -> id
//   - api_keys: key -> owner id, owner_keys: owner id -> key
//   - secrets: "<owner>/<name>" -> JSON vault.Envelope
//   - flags: "<owner>/<flag>" -> "1"
type BoltDirectory struct {
	db       *bbolt.DB
	signer   *SessionSigner
	validate *validator.Validate
}

func OpenBolt(path string, signer *SessionSigner) (*BoltDirectory, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{usersBucket, appsBucket, appSlugsBucket, apiKeysBucket, ownerKeysBucket, secretsBucket, flagsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltDirectory{db: db, signer: signer, validate: validation.Validator()}, nil
}

func (d *BoltDirectory) Close() error {
	return d.db.Close()
}

func (d *BoltDirectory) FindUserBySessionToken(_ context.Context, token string) (*User, error) {
	if d.signer == nil {
		return nil, ErrNotFound
	}
	ownerID, err := d.signer.Verify(token)
	if err != nil {
		return nil, ErrNotFound
	}

	var u User
	err = d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(usersBucket).Get([]byte(ownerID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *BoltDirectory) FindOwnerByAPIKey(_ context.Context, key string) (string, error) {
	var ownerID string
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(apiKeysBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		ownerID = string(v)
		return nil
	})
	return ownerID, err
}

func (d *BoltDirectory) FindAppBySlug(ctx context.Context, slug string) (*App, error) {
	var id string
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(appSlugsBucket).Get([]byte(slug))
		if v == nil {
			return ErrNotFound
		}
		id = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.FindAppByID(ctx, id)
}

func (d *BoltDirectory) FindAppByID(_ context.Context, id string) (*App, error) {
	var a App
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(appsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *BoltDirectory) OwnIssuedAPIKey(_ context.Context, ownerID string) (string, error) {
	var key string
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(ownerKeysBucket).Get([]byte(ownerID))
		if v == nil {
			return ErrNotFound
		}
		key = string(v)
		return nil
	})
	return key, err
}

func (d *BoltDirectory) GetSecret(_ context.Context, ownerID, name string) (vault.Envelope, error) {
	var e vault.Envelope
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(secretsBucket).Get(secretKey(ownerID, name))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}

// IsEnabled reports whether a feature flag is set for the owner.
// It satisfies the featureflag.Store interface.
func (d *BoltDirectory) IsEnabled(_ context.Context, ownerID, flag string) bool {
	var enabled bool
	d.db.View(func(tx *bbolt.Tx) error { //nolint:errcheck // View cannot fail here
		enabled = tx.Bucket(flagsBucket).Get(flagKey(ownerID, flag)) != nil
		return nil
	})
	return enabled
}

func (d *BoltDirectory) CreateUser(u User) error {
	if u.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(u.ID)) != nil {
			return fmt.Errorf("user %q already exists", u.ID)
		}
		v, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.ID), v)
	})
}

func (d *BoltDirectory) CreateApp(a App) error {
	if err := d.validate.Struct(a); err != nil {
		return fmt.Errorf("invalid app: %w", err)
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket).Get([]byte(a.OwnerID)) == nil {
			return fmt.Errorf("owner %q does not exist", a.OwnerID)
		}
		if tx.Bucket(appSlugsBucket).Get([]byte(a.Slug)) != nil {
			return fmt.Errorf("app slug %q already taken", a.Slug)
		}
		v, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := tx.Bucket(appsBucket).Put([]byte(a.ID), v); err != nil {
			return err
		}
		return tx.Bucket(appSlugsBucket).Put([]byte(a.Slug), []byte(a.ID))
	})
}

// IssueAPIKey generates a new API key for the owner, replacing any
// previously issued key.
func (d *BoltDirectory) IssueAPIKey(ownerID string) (string, error) {
	raw := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	key := "rk_" + hex.EncodeToString(raw)

	err := d.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket).Get([]byte(ownerID)) == nil {
			return fmt.Errorf("owner %q does not exist", ownerID)
		}
		keys := tx.Bucket(apiKeysBucket)
		ownerKeys := tx.Bucket(ownerKeysBucket)
		if old := ownerKeys.Get([]byte(ownerID)); old != nil {
			if err := keys.Delete(old); err != nil {
				return err
			}
		}
		if err := keys.Put([]byte(key), []byte(ownerID)); err != nil {
			return err
		}
		return ownerKeys.Put([]byte(ownerID), []byte(key))
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// PutSecret stores an envelope under (owner, name), overwriting an existing
// entry. The caller is responsible for encrypting with a fresh salt and IV.
func (d *BoltDirectory) PutSecret(ownerID, name string, e vault.Envelope) error {
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if err := d.validate.Var(name, "secretName"); err != nil {
		return fmt.Errorf("invalid secret name %q", name)
	}

	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(secretsBucket).Put(secretKey(ownerID, name), v)
	})
}

func (d *BoltDirectory) DeleteSecret(ownerID, name string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(secretsBucket)
		k := secretKey(ownerID, name)
		if b.Get(k) == nil {
			return ErrNotFound
		}
		return b.Delete(k)
	})
}

func (d *BoltDirectory) ListSecrets(ownerID string) ([]string, error) {
	var names []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		return prefixScan(tx.Bucket(secretsBucket), ownerID+"/", func(k, _ []byte) error {
			names = append(names, strings.TrimPrefix(string(k), ownerID+"/"))
			return nil
		})
	})
	return names, err
}

func (d *BoltDirectory) SetFlag(ownerID, flag string, enabled bool) error {
	if err := d.validate.Var(flag, "flagName"); err != nil {
		return fmt.Errorf("invalid flag name %q", flag)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(flagsBucket)
		if enabled {
			return b.Put(flagKey(ownerID, flag), []byte("1"))
		}
		return b.Delete(flagKey(ownerID, flag))
	})
}

// DeleteOwner removes the user and everything belonging to it: apps, issued
// API key, secrets and flags, in a single transaction.
func (d *BoltDirectory) DeleteOwner(ownerID string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(usersBucket).Delete([]byte(ownerID)); err != nil {
			return err
		}

		apps := tx.Bucket(appsBucket)
		slugs := tx.Bucket(appSlugsBucket)
		var drop [][]byte
		err := apps.ForEach(func(k, v []byte) error {
			var a App
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.OwnerID == ownerID {
				drop = append(drop, append([]byte(nil), k...))
				if err := slugs.Delete([]byte(a.Slug)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range drop {
			if err := apps.Delete(k); err != nil {
				return err
			}
		}

		ownerKeys := tx.Bucket(ownerKeysBucket)
		if key := ownerKeys.Get([]byte(ownerID)); key != nil {
			if err := tx.Bucket(apiKeysBucket).Delete(key); err != nil {
				return err
			}
			if err := ownerKeys.Delete([]byte(ownerID)); err != nil {
				return err
			}
		}

		if err := deletePrefix(tx.Bucket(secretsBucket), ownerID+"/"); err != nil {
			return err
		}
		return deletePrefix(tx.Bucket(flagsBucket), ownerID+"/")
	})
}

// RotateSecrets re-encrypts every stored secret from the old vault to the
// new one in a single transaction, so a failure on any secret leaves the
// store untouched. It returns the number of secrets rotated.
func (d *BoltDirectory) RotateSecrets(oldVault, newVault *vault.Vault) (int, error) {
	var n int
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(secretsBucket)

		type entry struct {
			key []byte
			env vault.Envelope
		}
		var rotated []entry

		err := b.ForEach(func(k, v []byte) error {
			var e vault.Envelope
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("secret %s: %w", k, err)
			}
			plaintext, err := oldVault.Decrypt(e)
			if err != nil {
				return fmt.Errorf("secret %s: %w", k, err)
			}
			ne, err := newVault.Encrypt(plaintext)
			if err != nil {
				return fmt.Errorf("secret %s: %w", k, err)
			}
			rotated = append(rotated, entry{key: append([]byte(nil), k...), env: ne})
			return nil
		})
		if err != nil {
			return err
		}

		for _, e := range rotated {
			v, err := json.Marshal(e.env)
			if err != nil {
				return err
			}
			if err := b.Put(e.key, v); err != nil {
				return err
			}
		}
		n = len(rotated)
		return nil
	})
	return n, err
}

func secretKey(ownerID, name string) []byte {
	return []byte(ownerID + "/" + name)
}

func flagKey(ownerID, flag string) []byte {
	return []byte(ownerID + "/" + flag)
}

func prefixScan(b *bbolt.Bucket, prefix string, fn func(k, v []byte) error) error {
	c := b.Cursor()
	p := []byte(prefix)
	for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(b *bbolt.Bucket, prefix string) error {
	var drop [][]byte
	if err := prefixScan(b, prefix, func(k, _ []byte) error {
		drop = append(drop, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range drop {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
