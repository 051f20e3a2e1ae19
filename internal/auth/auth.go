// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package auth implements the mock array's local account database and the
// CSRF token exchange its REST dialect requires on mutating requests.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

const (
	RoleAdministrator = "administrator"
	RoleOperator      = "user"
	RoleDiagnose      = "diagnose"

	LocalDomain = "local"
)

// User is one local account on the array.
type User struct {
	ID     string
	Name   string
	Role   string
	Domain string

	password string
}

// The stock accounts every array ships with. The mock accepts the factory
// password for all of them.
var localUsers = map[string]User{
	"admin":    {ID: "user_admin", Name: "admin", Role: RoleAdministrator, Domain: LocalDomain, password: "Password123!"},
	"user":     {ID: "user_user", Name: "user", Role: RoleOperator, Domain: LocalDomain, password: "Password123!"},
	"diagnose": {ID: "user_diagnose", Name: "diagnose", Role: RoleDiagnose, Domain: LocalDomain, password: "Password123!"},
}

// Users returns the local accounts sorted by name.
func Users() []User {
	names := make([]string, 0, len(localUsers))
	for name := range localUsers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]User, 0, len(names))
	for _, name := range names {
		out = append(out, localUsers[name])
	}
	return out
}

// Authenticate checks basic-auth credentials against the local accounts.
func Authenticate(username, password string) (*User, bool) {
	u, ok := localUsers[username]
	if !ok {
		// Burn a comparison anyway so unknown and known usernames are
		// indistinguishable by timing.
		subtle.ConstantTimeCompare([]byte(password), []byte("Password123!"))
		return nil, false
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(u.password)) != 1 {
		return nil, false
	}
	return &u, true
}

// TokenStore tracks issued CSRF tokens. Tokens live until logout or process
// exit; the mock does not expire them.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// Issue mints a fresh token bound to the given user.
func (s *TokenStore) Issue(username string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	token := hex.EncodeToString(buf)
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()
	return token, nil
}

// Valid reports whether the token was issued by this store.
func (s *TokenStore) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	_, ok := s.tokens[token]
	s.mu.Unlock()
	return ok
}

// Lookup resolves a token back to the account it was issued for.
func (s *TokenStore) Lookup(token string) (*User, bool) {
	s.mu.Lock()
	username, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	u, ok := localUsers[username]
	if !ok {
		return nil, false
	}
	return &u, true
}

// Revoke invalidates a token on logout. Revoking an unknown token is a no-op.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
