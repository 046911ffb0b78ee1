// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package storage holds all cached token information for the silent client.
// This storage can be augmented with third-party extensions to provide
// persistent storage. In that case, reads and writes in upper packages will
// call Marshal() to take the entire in-memory representation and write it to
// storage and Unmarshal() to update the entire in-memory storage with what
// was in the persistent storage. The persistent storage can only be accessed
// in this way because multiple clients written in multiple languages can
// access the same storage and must adhere to the same contract.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thiagoschreck/msal-browser-go/apps/internal/authority"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/shared"
)

const scopeSeparator = " "

// TokenResponse mimics a token response that was pulled from the cache.
type TokenResponse struct {
	AccessToken AccessToken
	IDToken     IDToken
	Account     shared.Account
}

// Manager is an in-memory cache of access tokens, accounts and metadata.
// This data is updated on read/write calls. Unmarshal() replaces all data
// stored here with whatever was given to it on each call.
type Manager struct {
	contract   *Contract
	contractMu sync.RWMutex
}

// New is the constructor for Manager.
func New() *Manager {
	return &Manager{contract: NewContract()}
}

func checkAlias(alias string, aliases []string) bool {
	for _, v := range aliases {
		if alias == v {
			return true
		}
	}
	return false
}

func isMatchingScopes(scopesOne []string, scopesTwo string) bool {
	newScopesTwo := strings.Split(scopesTwo, scopeSeparator)
	scopeCounter := 0
	for _, scope := range scopesOne {
		for _, otherScope := range newScopesTwo {
			if strings.EqualFold(scope, otherScope) {
				scopeCounter++
				continue
			}
		}
	}
	return scopeCounter == len(scopesOne)
}

// Read reads a storage token from the cache if it exists. envAliases are the
// environment aliases the authority is known by; the authority host itself
// is always an acceptable alias.
func (m *Manager) Read(ctx context.Context, authParameters authority.AuthParams, account shared.Account, envAliases []string) (TokenResponse, error) {
	homeAccountID := authParameters.HomeAccountID
	if homeAccountID == "" {
		homeAccountID = account.HomeAccountID
	}
	realm := authParameters.AuthorityInfo.Tenant
	clientID := authParameters.ClientID
	scopes := authParameters.Scopes

	if !checkAlias(authParameters.AuthorityInfo.Host, envAliases) {
		envAliases = append(envAliases, authParameters.AuthorityInfo.Host)
	}

	accessToken, err := m.readAccessToken(homeAccountID, envAliases, realm, clientID, scopes)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := accessToken.Validate(); err != nil {
		return TokenResponse{}, err
	}

	if account.IsZero() {
		return TokenResponse{AccessToken: accessToken}, nil
	}

	idToken, err := m.readIDToken(homeAccountID, envAliases, realm, clientID)
	if err != nil {
		return TokenResponse{}, err
	}
	account, err = m.readAccount(homeAccountID, envAliases, realm)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: accessToken,
		IDToken:     idToken,
		Account:     account,
	}, nil
}

// WriteParams describe the credentials an interactive flow obtained, to be
// recorded for later silent use.
type WriteParams struct {
	AccessToken    string
	ExpiresOn      time.Time
	Scopes         []string
	TokenType      string
	KeyID          string
	IDToken        string
	RefreshToken   string
	LocalAccountID string
	Username       string
}

// Write writes credentials to the cache and returns the account information
// they are stored with.
func (m *Manager) Write(authParameters authority.AuthParams, params WriteParams) (shared.Account, error) {
	homeAccountID := authParameters.HomeAccountID
	environment := authParameters.AuthorityInfo.Host
	realm := authParameters.AuthorityInfo.Tenant
	clientID := authParameters.ClientID
	target := strings.Join(params.Scopes, scopeSeparator)
	cachedAt := time.Now()

	var account shared.Account

	if params.RefreshToken != "" {
		rt := RefreshToken{
			HomeAccountID:  homeAccountID,
			Environment:    environment,
			CredentialType: "RefreshToken",
			ClientID:       clientID,
			Secret:         params.RefreshToken,
		}
		if err := m.writeRefreshToken(rt); err != nil {
			return account, err
		}
	}

	if params.AccessToken != "" {
		tokenType := params.TokenType
		if tokenType == "" {
			tokenType = TokenTypeBearer
		}
		accessToken := NewAccessToken(
			homeAccountID,
			environment,
			realm,
			clientID,
			cachedAt,
			params.ExpiresOn,
			target,
			params.AccessToken,
			tokenType,
			params.KeyID,
		)
		// Since we have a valid access token, cache it before moving on.
		if err := accessToken.Validate(); err == nil {
			if err := m.writeAccessToken(accessToken); err != nil {
				return account, err
			}
		}
	}

	if params.IDToken != "" {
		idToken := NewIDToken(homeAccountID, environment, realm, clientID, params.IDToken)
		if err := m.writeIDToken(idToken); err != nil {
			return shared.Account{}, err
		}

		account = shared.NewAccount(
			homeAccountID,
			environment,
			realm,
			params.LocalAccountID,
			authParameters.AuthorityInfo.AuthorityType,
			params.Username,
		)
		if err := m.writeAccount(account); err != nil {
			return shared.Account{}, err
		}
	}
	return account, nil
}

func (m *Manager) readAccessToken(homeID string, envAliases []string, realm, clientID string, scopes []string) (AccessToken, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, at := range m.contract.AccessTokens {
		if at.HomeAccountID == homeID && at.Realm == realm && at.ClientID == clientID {
			if checkAlias(at.Environment, envAliases) {
				if isMatchingScopes(scopes, at.Scopes) {
					return at, nil
				}
			}
		}
	}
	return AccessToken{}, fmt.Errorf("access token not found")
}

func (m *Manager) writeAccessToken(accessToken AccessToken) error {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.AccessTokens[accessToken.Key()] = accessToken
	return nil
}

func (m *Manager) readIDToken(homeID string, envAliases []string, realm, clientID string) (IDToken, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, idt := range m.contract.IDTokens {
		if idt.HomeAccountID == homeID && idt.Realm == realm && idt.ClientID == clientID {
			if checkAlias(idt.Environment, envAliases) {
				return idt, nil
			}
		}
	}
	return IDToken{}, fmt.Errorf("token not found")
}

func (m *Manager) writeIDToken(idToken IDToken) error {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.IDTokens[idToken.Key()] = idToken
	return nil
}

func (m *Manager) writeRefreshToken(refreshToken RefreshToken) error {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.RefreshTokens[refreshToken.Key()] = refreshToken
	return nil
}

func (m *Manager) readAccount(homeAccountID string, envAliases []string, realm string) (shared.Account, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	// The keys are made using a specific "env", but here we allow a match in
	// multiple envs (envAliases), so we check statically instead of hashing
	// each possible key. The number of accounts per manager is tiny.
	for _, acc := range m.contract.Accounts {
		if acc.HomeAccountID == homeAccountID && checkAlias(acc.Environment, envAliases) && acc.Realm == realm {
			return acc, nil
		}
	}
	return shared.Account{}, fmt.Errorf("account not found")
}

func (m *Manager) writeAccount(account shared.Account) error {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.Accounts[account.Key()] = account
	return nil
}

// AllAccounts returns all accounts in the cache.
func (m *Manager) AllAccounts() []shared.Account {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	var accounts []shared.Account
	for _, v := range m.contract.Accounts {
		accounts = append(accounts, v)
	}
	return accounts
}

// Marshal implements cache.Marshaler.
func (m *Manager) Marshal() ([]byte, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	return json.Marshal(m.contract)
}

// Unmarshal implements cache.Unmarshaler.
func (m *Manager) Unmarshal(b []byte) error {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()

	contract := NewContract()
	if err := json.Unmarshal(b, contract); err != nil {
		return err
	}
	m.contract = contract
	return nil
}
