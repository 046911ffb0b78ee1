// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package config resolves the client configuration a token retrieval engine
// is constructed from. Resolution binds a request's authority (including any
// per-request cloud override) to the environment aliases reported by
// instance discovery. A configuration is scoped to one engine instance and
// is never shared across requests with different authorities.
package config

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/thiagoschreck/msal-browser-go/apps/cache"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/authority"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/crypto"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/shared"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/storage"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/telemetry"
)

// ClientConfiguration is a fully-resolved, authority-bound configuration.
// The storage manager, key store and cache accessor are process-wide handles
// stamped into each configuration; everything else is per-resolution state.
type ClientConfiguration struct {
	ClientID      string
	Authority     authority.Info
	EnvAliases    []string
	Storage       *storage.Manager
	CacheAccessor cache.ExportReplace
	KeyStore      crypto.KeyStore
	Logger        *slog.Logger
}

// discoveryer allows faking instance discovery in tests. It is implemented
// in production by authority.Client.
type discoveryer interface {
	AADInstanceDiscovery(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryResponse, error)
}

// Resolver produces client configurations for acquisition attempts.
type Resolver struct {
	ClientID      string
	Storage       *storage.Manager
	CacheAccessor cache.ExportReplace
	KeyStore      crypto.KeyStore
	Logger        *slog.Logger

	// Discovery defaults to authority.Client over shared.DefaultClient.
	Discovery discoveryer
	// DisableInstanceDiscovery skips the discovery call, e.g. for private
	// cloud deployments (ADFS) whose hosts are not in the discovery set.
	DisableInstanceDiscovery bool
	HTTPClient               *http.Client
}

// Resolve builds a configuration for the given authority URL and cloud
// options. The telemetry manager travels with the resolution so the
// engine's requests are tagged with the originating API; it is not consulted
// for any decision here. Each call returns a new configuration value.
func (r Resolver) Resolve(ctx context.Context, tm *telemetry.ServerTelemetryManager, authorityURL string, cloud authority.CloudOptions) (ClientConfiguration, error) {
	info, err := authority.NewInfoFromAuthorityURI(authorityURL, true)
	if err != nil {
		return ClientConfiguration{}, err
	}
	info = authority.ApplyCloudOptions(info, cloud)

	cfg := ClientConfiguration{
		ClientID:      r.ClientID,
		Authority:     info,
		Storage:       r.Storage,
		CacheAccessor: r.CacheAccessor,
		KeyStore:      r.KeyStore,
		Logger:        r.Logger,
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if r.DisableInstanceDiscovery || info.AuthorityType == authority.ADFS {
		cfg.EnvAliases = []string{info.Host}
		return cfg, nil
	}

	discovery := r.Discovery
	if discovery == nil {
		httpClient := r.HTTPClient
		if httpClient == nil {
			httpClient = shared.DefaultClient
		}
		discovery = authority.Client{HTTPClient: httpClient}
	}
	resp, err := discovery.AADInstanceDiscovery(ctx, info)
	if err != nil {
		return ClientConfiguration{}, err
	}

	for _, md := range resp.Metadata {
		for _, alias := range md.Aliases {
			if alias == info.Host {
				cfg.EnvAliases = md.Aliases
				break
			}
		}
	}
	if len(cfg.EnvAliases) == 0 {
		cfg.EnvAliases = []string{info.Host}
	}
	return cfg, nil
}
