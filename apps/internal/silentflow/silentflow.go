// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package silentflow implements the cache-only token retrieval engine. An
// Engine is built per acquisition attempt from a resolved client
// configuration and never contacts the network: it either satisfies the
// request from the token cache or fails with a classified error the caller
// can branch on.
package silentflow

import (
	"context"
	"net/url"

	"github.com/thiagoschreck/msal-browser-go/apps/cache"
	"github.com/thiagoschreck/msal-browser-go/apps/errors"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/authority"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/base"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/config"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/crypto"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/storage"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/telemetry"
)

// Engine attempts to satisfy silent requests from the cache.
type Engine struct {
	config config.ClientConfiguration
	perf   *telemetry.Client
}

// New constructs an Engine from a resolved configuration. Engines are cheap;
// one is built per acquisition attempt and discarded.
func New(cfg config.ClientConfiguration, perf *telemetry.Client) *Engine {
	return &Engine{config: cfg, perf: perf}
}

// AcquireCachedToken attempts to satisfy the request from the cache. It is
// single-shot: no refresh, no network fallback. Failures are classified so
// a higher-level orchestrator can decide whether to escalate to an
// interactive or network-based flow.
func (e *Engine) AcquireCachedToken(ctx context.Context, req base.CommonSilentFlowRequest) (base.AuthResult, error) {
	if e.perf != nil {
		e.perf.AddQueueMeasurement(telemetry.EventAcquireCachedToken, req.CorrelationID)
	}

	if req.ForceRefresh {
		return base.AuthResult{}, errors.ErrRefreshRequired
	}

	manager := e.config.Storage
	if accessor := e.config.CacheAccessor; accessor != nil {
		var s cache.Serializer = manager
		accessor.Replace(s)
		defer accessor.Export(s)
	}

	params := authority.NewAuthParams(e.config.ClientID, e.config.Authority)
	params.Scopes = req.Scopes
	params.HomeAccountID = req.Account.HomeAccountID
	params.CorrelationID = req.CorrelationID

	storageTokenResponse, err := manager.Read(ctx, params, req.Account, e.config.EnvAliases)
	if err != nil {
		return base.AuthResult{}, &errors.AuthError{
			Code: errors.CodeNoTokenFound,
			Desc: "no valid cached token satisfied the request",
			Err:  err,
		}
	}

	// A cached token only satisfies a request for its own scheme: a bearer
	// entry cannot back a bound request and a bound entry is not handed out
	// bare.
	wantPoP := req.AuthenticationScheme == base.SchemePoP
	if gotPoP := storageTokenResponse.AccessToken.TokenType == storage.TokenTypePoP; gotPoP != wantPoP {
		return base.AuthResult{}, &errors.AuthError{
			Code: errors.CodeNoTokenFound,
			Desc: "cached token does not match the requested authentication scheme",
		}
	}

	result, err := base.AuthResultFromStorage(storageTokenResponse)
	if err != nil {
		return base.AuthResult{}, err
	}

	if wantPoP {
		result, err = e.bindResult(ctx, req, storageTokenResponse.AccessToken, result)
		if err != nil {
			return base.AuthResult{}, err
		}
	}
	return result, nil
}

// bindResult wraps a bound access token in an envelope signed with its
// binding keypair. A missing keypair invalidates the cached token even
// though the record exists; the classified key-not-found error from the key
// store propagates unchanged.
func (e *Engine) bindResult(ctx context.Context, req base.CommonSilentFlowRequest, at storage.AccessToken, result base.AuthResult) (base.AuthResult, error) {
	key, err := e.config.KeyStore.RetrieveKey(ctx, at.KeyID)
	if err != nil {
		return base.AuthResult{}, err
	}

	pop := crypto.PopParams{
		Method: req.ResourceRequestMethod,
		Nonce:  req.ShrNonce,
	}
	if req.ResourceRequestURI != "" {
		u, err := url.Parse(req.ResourceRequestURI)
		if err != nil {
			return base.AuthResult{}, err
		}
		pop.Host = u.Host
		pop.Path = u.Path
	}

	signed, err := crypto.NewSignedHTTPRequest(key, at.Secret, pop)
	if err != nil {
		return base.AuthResult{}, err
	}
	result.AccessToken = signed
	result.TokenType = storage.TokenTypePoP
	return result, nil
}
