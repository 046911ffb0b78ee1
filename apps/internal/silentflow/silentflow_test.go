// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package silentflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/thiagoschreck/msal-browser-go/apps/errors"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/authority"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/base"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/config"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/crypto"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/shared"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/storage"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/telemetry"
)

const (
	testClientID = "test-client-id"
	testHost     = "login.microsoftonline.com"
	testTenant   = "test-tenant"
	testSecret   = "test-access-token"
)

var testScopes = []string{"scope"}

func testConfig(t *testing.T) config.ClientConfiguration {
	t.Helper()
	info, err := authority.NewInfoFromAuthorityURI("https://"+testHost+"/"+testTenant, true)
	require.NoError(t, err)
	return config.ClientConfiguration{
		ClientID:   testClientID,
		Authority:  info,
		EnvAliases: []string{testHost},
		Storage:    storage.New(),
		KeyStore:   crypto.NewMemKeyStore(),
	}
}

// rawIDToken builds an unsigned JWT with enough claims to derive an account.
func rawIDToken(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"preferred_username": "user",
		"oid":                "local",
		"tid":                testTenant,
	})
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(b) + "."
}

func seed(t *testing.T, cfg config.ClientConfiguration, params storage.WriteParams) shared.Account {
	t.Helper()
	authParams := authority.NewAuthParams(testClientID, cfg.Authority)
	authParams.HomeAccountID = "home"
	if params.Scopes == nil {
		params.Scopes = testScopes
	}
	if params.IDToken == "" {
		params.IDToken = rawIDToken(t)
		params.LocalAccountID = "local"
		params.Username = "user"
	}
	account, err := cfg.Storage.Write(authParams, params)
	require.NoError(t, err)
	require.False(t, account.IsZero())
	return account
}

func request(account shared.Account) base.CommonSilentFlowRequest {
	return base.CommonSilentFlowRequest{
		Scopes:        testScopes,
		Authority:     "https://" + testHost + "/" + testTenant,
		CorrelationID: "corr",
		Account:       account,
	}
}

func TestAcquireCachedTokenBearer(t *testing.T) {
	cfg := testConfig(t)
	account := seed(t, cfg, storage.WriteParams{
		AccessToken: testSecret,
		ExpiresOn:   time.Now().Add(time.Hour),
	})

	eng := New(cfg, telemetry.New())
	result, err := eng.AcquireCachedToken(context.Background(), request(account))
	require.NoError(t, err)
	require.Equal(t, testSecret, result.AccessToken)
	require.Equal(t, storage.TokenTypeBearer, result.TokenType)
	require.True(t, result.FromCache)
	require.Equal(t, account.HomeAccountID, result.Account.HomeAccountID)
}

func TestAcquireCachedTokenEmptyCache(t *testing.T) {
	cfg := testConfig(t)
	eng := New(cfg, telemetry.New())

	_, err := eng.AcquireCachedToken(context.Background(), request(shared.Account{HomeAccountID: "home"}))
	require.Error(t, err)
	require.ErrorIs(t, err, errors.ErrNoTokenFound)
}

func TestAcquireCachedTokenExpired(t *testing.T) {
	cfg := testConfig(t)
	storage.FakeValidate = func(storage.AccessToken) error { return nil }
	account := seed(t, cfg, storage.WriteParams{
		AccessToken: testSecret,
		ExpiresOn:   time.Now().Add(-time.Hour),
	})
	storage.FakeValidate = nil

	eng := New(cfg, telemetry.New())
	_, err := eng.AcquireCachedToken(context.Background(), request(account))
	require.ErrorIs(t, err, errors.ErrNoTokenFound)
}

func TestAcquireCachedTokenForceRefresh(t *testing.T) {
	cfg := testConfig(t)
	account := seed(t, cfg, storage.WriteParams{
		AccessToken: testSecret,
		ExpiresOn:   time.Now().Add(time.Hour),
	})

	eng := New(cfg, telemetry.New())
	req := request(account)
	req.ForceRefresh = true
	_, err := eng.AcquireCachedToken(context.Background(), req)
	require.ErrorIs(t, err, errors.ErrRefreshRequired, "a cache-only engine cannot honor ForceRefresh")
}

func TestAcquireCachedTokenBoundToken(t *testing.T) {
	cfg := testConfig(t)

	key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	kid := crypto.Thumbprint(&key.PublicKey)
	require.NoError(t, cfg.KeyStore.StoreKey(context.Background(), kid, key))

	account := seed(t, cfg, storage.WriteParams{
		AccessToken: testSecret,
		ExpiresOn:   time.Now().Add(time.Hour),
		TokenType:   storage.TokenTypePoP,
		KeyID:       kid,
	})

	eng := New(cfg, telemetry.New())
	req := request(account)
	req.AuthenticationScheme = base.SchemePoP
	req.ResourceRequestMethod = "GET"
	req.ResourceRequestURI = "https://resource.example/path"

	result, err := eng.AcquireCachedToken(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, storage.TokenTypePoP, result.TokenType)

	// The envelope must be a JWT signed with the binding key, wrapping the
	// cached secret.
	parsed, err := jwt.Parse(result.AccessToken, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, testSecret, claims["at"])
	require.Equal(t, "GET", claims["m"])
	require.Equal(t, "resource.example", claims["u"])
}

func TestAcquireCachedTokenBoundTokenKeyMissing(t *testing.T) {
	cfg := testConfig(t)
	account := seed(t, cfg, storage.WriteParams{
		AccessToken: testSecret,
		ExpiresOn:   time.Now().Add(time.Hour),
		TokenType:   storage.TokenTypePoP,
		KeyID:       "gone",
	})

	eng := New(cfg, telemetry.New())
	req := request(account)
	req.AuthenticationScheme = base.SchemePoP
	_, err := eng.AcquireCachedToken(context.Background(), req)
	require.ErrorIs(t, err, errors.ErrCryptoKeyNotFound, "a bound token without its keypair is unusable")
}

func TestAcquireCachedTokenSchemeMismatch(t *testing.T) {
	t.Run("bound requested, bearer cached", func(t *testing.T) {
		cfg := testConfig(t)
		account := seed(t, cfg, storage.WriteParams{
			AccessToken: testSecret,
			ExpiresOn:   time.Now().Add(time.Hour),
		})

		eng := New(cfg, telemetry.New())
		req := request(account)
		req.AuthenticationScheme = base.SchemePoP
		req.ResourceRequestMethod = "GET"
		req.ResourceRequestURI = "https://resource.example/path"

		_, err := eng.AcquireCachedToken(context.Background(), req)
		require.ErrorIs(t, err, errors.ErrNoTokenFound, "a bearer entry cannot back a bound request")
	})

	t.Run("bearer requested, bound cached", func(t *testing.T) {
		cfg := testConfig(t)

		key, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		kid := crypto.Thumbprint(&key.PublicKey)
		require.NoError(t, cfg.KeyStore.StoreKey(context.Background(), kid, key))

		account := seed(t, cfg, storage.WriteParams{
			AccessToken: testSecret,
			ExpiresOn:   time.Now().Add(time.Hour),
			TokenType:   storage.TokenTypePoP,
			KeyID:       kid,
		})

		eng := New(cfg, telemetry.New())
		_, err = eng.AcquireCachedToken(context.Background(), request(account))
		require.ErrorIs(t, err, errors.ErrNoTokenFound, "a bound entry is never handed out bare")
	})
}
