// Package userdir is an in-memory user directory backed by argon2id hashes.
// It is the credential verifier and user-state provider of the reference
// daemon and the load generator, not a production user store.
package userdir

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
)

// User is one seeded account. Exactly one of Password and PasswordHash is
// needed; a plaintext password is hashed when the directory is built.
type User struct {
	ID           string   `yaml:"id"`
	Identifier   string   `yaml:"identifier"`
	Password     string   `yaml:"password"`
	PasswordHash string   `yaml:"password_hash"`
	Scope        []string `yaml:"scope"`
	Tenant       string   `yaml:"tenant"`
	Banned       bool     `yaml:"banned"`
}

type entry struct {
	id     string
	hash   string
	scope  []string
	tenant string
}

// Directory implements authcore.CredentialVerifier and
// authcore.UserStateProvider.
type Directory struct {
	hasher *password.Hasher
	// dummy is verified for unknown identifiers so both failure paths cost
	// one argon2 evaluation.
	dummy string

	mu     sync.RWMutex
	byName map[string]entry
	banned map[string]bool
}

// New hashes and indexes users.
func New(hasher *password.Hasher, users []User) (*Directory, error) {
	dummy, err := hasher.Hash("authcore-dummy-password")
	if err != nil {
		return nil, err
	}
	d := &Directory{
		hasher: hasher,
		dummy:  dummy,
		byName: make(map[string]entry, len(users)),
		banned: map[string]bool{},
	}
	for _, u := range users {
		if err := d.Add(u); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Add inserts or replaces a user.
func (d *Directory) Add(u User) error {
	if u.ID == "" || normalize(u.Identifier) == "" {
		return errors.New("user requires id and identifier")
	}
	hash := u.PasswordHash
	if hash == "" {
		if u.Password == "" {
			return fmt.Errorf("user %s has no password", u.ID)
		}
		var err error
		if hash, err = d.hasher.Hash(u.Password); err != nil {
			return fmt.Errorf("hashing password of %s: %w", u.ID, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName[normalize(u.Identifier)] = entry{id: u.ID, hash: hash, scope: u.Scope, tenant: u.Tenant}
	d.banned[u.ID] = u.Banned
	return nil
}

// SetBanned flips the ban flag consulted by IsUserBanned.
func (d *Directory) SetBanned(userID string, banned bool) {
	d.mu.Lock()
	d.banned[userID] = banned
	d.mu.Unlock()
}

// VerifyCredential checks identifier and secret. Unknown identifiers and
// wrong secrets both return authcore.ErrInvalidCredentials. A user pinned to
// a tenant cannot log in under another one.
func (d *Directory) VerifyCredential(ctx context.Context, identifier, secret string) (authcore.Principal, error) {
	d.mu.RLock()
	e, ok := d.byName[normalize(identifier)]
	d.mu.RUnlock()

	hash := e.hash
	if !ok {
		hash = d.dummy
	}
	match, err := d.hasher.Verify(secret, hash)
	if errors.Is(err, password.ErrPasswordLength) {
		return authcore.Principal{}, authcore.ErrInvalidCredentials
	}
	if err != nil {
		return authcore.Principal{}, err
	}
	if !ok || !match {
		return authcore.Principal{}, authcore.ErrInvalidCredentials
	}
	if e.tenant != "" && e.tenant != authcore.TenantIDFromContext(ctx) {
		return authcore.Principal{}, authcore.ErrInvalidCredentials
	}
	return authcore.Principal{UserID: e.id, Scope: append([]string(nil), e.scope...)}, nil
}

// IsUserBanned implements authcore.UserStateProvider.
func (d *Directory) IsUserBanned(_ context.Context, _, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.banned[userID], nil
}
