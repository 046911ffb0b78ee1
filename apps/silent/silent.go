// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package silent provides a client that acquires tokens without user
interaction, entirely from locally persisted credential state. It never
performs network token calls, never renders UI and never retries: a request
is satisfied from the cache in a single attempt or fails with a classified
error a higher-level orchestrator can use to decide whether to escalate to
an interactive or network-based flow.
*/
package silent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/thiagoschreck/msal-browser-go/apps/cache"
	"github.com/thiagoschreck/msal-browser-go/apps/errors"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/authority"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/base"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/config"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/crypto"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/shared"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/silentflow"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/storage"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/telemetry"
)

// AuthorityPublicCloud is the default authority host.
const AuthorityPublicCloud = "https://login.microsoftonline.com/common"

// AuthResult contains the results of one token acquisition operation.
type AuthResult = base.AuthResult

// Account identifies a previously authenticated principal.
type Account = shared.Account

// CommonSilentFlowRequest is the canonical request AcquireTokenSilent
// operates on. Build one with InitializeSilentRequest.
type CommonSilentFlowRequest = base.CommonSilentFlowRequest

// engine is the cache-backed token retrieval engine. It is defined to allow
// faking the engine in tests. In all production use it is a
// *silentflow.Engine.
type engine interface {
	AcquireCachedToken(ctx context.Context, req base.CommonSilentFlowRequest) (base.AuthResult, error)
}

// resolver produces authority-bound client configurations. Implemented in
// production by config.Resolver.
type resolver interface {
	Resolve(ctx context.Context, tm *telemetry.ServerTelemetryManager, authorityURL string, cloud authority.CloudOptions) (config.ClientConfiguration, error)
}

// requestInitializer supplies the base-request fields shared across
// acquisition strategies. Implemented in production by base.Initializer.
type requestInitializer interface {
	InitializeBaseRequest(ctx context.Context, req base.Request) (base.Request, error)
}

type noopCacheAccessor struct{}

func (n noopCacheAccessor) Replace(cache cache.Unmarshaler) {}
func (n noopCacheAccessor) Export(cache cache.Marshaler)    {}

// Options configures the Client's behavior.
type Options struct {
	// Authority is the default authority. This can be changed with the
	// WithAuthority() option.
	Authority string

	// Accessor controls cache persistence. By default there is no cache
	// persistence. This can be set with the WithCache() option.
	Accessor cache.ExportReplace

	// KeyStore holds bound-token signing keypairs. Defaults to an in-memory
	// store.
	KeyStore crypto.KeyStore

	// Telemetry receives performance measurements. Defaults to a new
	// telemetry client.
	Telemetry *telemetry.Client

	// Logger receives diagnostic traces. Defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient is used for instance discovery. Defaults to the shared
	// client.
	HTTPClient *http.Client

	// DisableInstanceDiscovery skips authority instance discovery.
	DisableInstanceDiscovery bool
}

func (o *Options) validate() error {
	u, err := url.Parse(o.Authority)
	if err != nil {
		return fmt.Errorf("the Authority option cannot be URL parsed: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("the Authority(%s) does not start with https://", u.String())
	}
	return nil
}

// Option is an optional argument to the New constructor.
type Option func(o *Options)

// WithAuthority allows for a custom authority to be set. This must be a
// valid https url.
func WithAuthority(authority string) Option {
	return func(o *Options) {
		o.Authority = authority
	}
}

// WithCache allows you to set some type of cache for storing authentication
// tokens.
func WithCache(accessor cache.ExportReplace) Option {
	return func(o *Options) {
		o.Accessor = accessor
	}
}

// WithKeyStore sets the store for bound-token signing keypairs.
func WithKeyStore(ks crypto.KeyStore) Option {
	return func(o *Options) {
		o.KeyStore = ks
	}
}

// WithTelemetry sets the telemetry client measurements are reported to.
func WithTelemetry(perf *telemetry.Client) Option {
	return func(o *Options) {
		o.Telemetry = perf
	}
}

// WithLogger sets the logger diagnostic traces are written to.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithHTTPClient sets the HTTP client used for instance discovery.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// WithInstanceDiscoveryDisabled skips authority instance discovery, e.g.
// for private cloud deployments.
func WithInstanceDiscoveryDisabled() Option {
	return func(o *Options) {
		o.DisableInstanceDiscovery = true
	}
}

// Client acquires tokens silently from the cache. Create one with New; the
// zero value is not usable.
type Client struct {
	clientID  string
	authority string
	logger    *slog.Logger
	perf      *telemetry.Client

	storage  *storage.Manager
	accessor cache.ExportReplace

	initializer requestInitializer
	resolver    resolver
	// newEngine builds the retrieval engine for one attempt. Replaceable in
	// tests.
	newEngine func(cfg config.ClientConfiguration, perf *telemetry.Client) engine
}

// New is the constructor for Client.
func New(clientID string, options ...Option) (Client, error) {
	opts := Options{Authority: AuthorityPublicCloud}
	for _, o := range options {
		o(&opts)
	}
	if err := opts.validate(); err != nil {
		return Client{}, err
	}
	if opts.Accessor == nil {
		opts.Accessor = noopCacheAccessor{}
	}
	if opts.KeyStore == nil {
		opts.KeyStore = crypto.NewMemKeyStore()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	manager := storage.New()
	return Client{
		clientID:  clientID,
		authority: opts.Authority,
		logger:    opts.Logger,
		perf:      opts.Telemetry,
		storage:   manager,
		accessor:  opts.Accessor,
		initializer: base.Initializer{
			DefaultAuthority: opts.Authority,
			Perf:             opts.Telemetry,
		},
		resolver: config.Resolver{
			ClientID:                 clientID,
			Storage:                  manager,
			CacheAccessor:            opts.Accessor,
			KeyStore:                 opts.KeyStore,
			Logger:                   opts.Logger,
			HTTPClient:               opts.HTTPClient,
			DisableInstanceDiscovery: opts.DisableInstanceDiscovery,
		},
		newEngine: func(cfg config.ClientConfiguration, perf *telemetry.Client) engine {
			return silentflow.New(cfg, perf)
		},
	}, nil
}

// Request describes a desired token for a silent acquisition. It is
// immutable once passed in.
type Request struct {
	Scopes        []string
	Authority     string
	CloudOptions  authority.CloudOptions
	ForceRefresh  bool
	CorrelationID string

	// AuthenticationScheme selects bearer or bound (pop) tokens. The
	// remaining fields describe the resource call a bound token is tied to.
	AuthenticationScheme  string
	ResourceRequestMethod string
	ResourceRequestURI    string
	ShrNonce              string
}

// InitializeSilentRequest merges a raw request with account context and the
// shared base-request fields into the canonical silent flow request.
// Explicitly set request fields take precedence over base fields;
// ForceRefresh resolves to false when the request omits it.
func (c Client) InitializeSilentRequest(ctx context.Context, req Request, account shared.Account) (base.CommonSilentFlowRequest, error) {
	c.perf.AddQueueMeasurement(telemetry.EventInitializeSilentRequest, req.CorrelationID)
	c.perf.SetPreQueueTime(telemetry.EventInitializeBaseRequest, req.CorrelationID)

	baseReq, err := c.initializer.InitializeBaseRequest(ctx, base.Request{
		Scopes:        req.Scopes,
		Authority:     req.Authority,
		CloudOptions:  req.CloudOptions,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return base.CommonSilentFlowRequest{}, err
	}

	out := base.CommonSilentFlowRequest{
		Scopes:        baseReq.Scopes,
		Authority:     baseReq.Authority,
		CloudOptions:  baseReq.CloudOptions,
		CorrelationID: baseReq.CorrelationID,

		Account:      account,
		ForceRefresh: req.ForceRefresh,

		AuthenticationScheme:  req.AuthenticationScheme,
		ResourceRequestMethod: req.ResourceRequestMethod,
		ResourceRequestURI:    req.ResourceRequestURI,
		ShrNonce:              req.ShrNonce,
	}
	// The raw request wins over base fields it explicitly set.
	if len(req.Scopes) > 0 {
		out.Scopes = req.Scopes
	}
	if req.Authority != "" {
		out.Authority = req.Authority
	}
	if !req.CloudOptions.IsZero() {
		out.CloudOptions = req.CloudOptions
	}
	if req.CorrelationID != "" {
		out.CorrelationID = req.CorrelationID
	}
	return out, nil
}

// AcquireTokenSilent attempts to satisfy the request from the cache. On
// success the engine's result is returned unmodified. On failure the
// engine's or resolver's error propagates unchanged; this client never
// retries and never downgrades a miss into an empty result.
func (c Client) AcquireTokenSilent(ctx context.Context, req base.CommonSilentFlowRequest) (base.AuthResult, error) {
	measurement := c.perf.StartMeasurement(telemetry.EventSilentCacheClientAcquireToken, req.CorrelationID)
	outcome := telemetry.Outcome{}
	defer func() { measurement.End(outcome) }()

	tm := c.perf.ServerTelemetryManager(telemetry.APIAcquireTokenSilentSilentFlow)

	eng, err := c.createSilentFlowClient(ctx, tm, req.CorrelationID, req.Authority, req.CloudOptions)
	if err != nil {
		outcome.ErrorCode, outcome.SubErrorCode, _ = errors.Codes(err)
		return base.AuthResult{}, err
	}

	c.perf.SetPreQueueTime(telemetry.EventAcquireCachedToken, req.CorrelationID)
	result, err := eng.AcquireCachedToken(ctx, req)
	if err != nil {
		if errors.Is(err, errors.ErrCryptoKeyNotFound) {
			c.logger.Debug(
				"signing keypair for bound token is missing from storage; the bound token must be refreshed and key material regenerated",
				slog.String("correlation_id", req.CorrelationID),
			)
		}
		outcome.ErrorCode, outcome.SubErrorCode, _ = errors.Codes(err)
		return base.AuthResult{}, err
	}

	tm.IncrementCacheHits()
	outcome.Success = true
	outcome.FromCache = true
	return result, nil
}

// createSilentFlowClient builds a retrieval engine scoped to the request's
// authority and cloud options. A new engine is built per acquisition
// attempt; configurations are never shared across authorities.
func (c Client) createSilentFlowClient(ctx context.Context, tm *telemetry.ServerTelemetryManager, correlationID, authorityURL string, cloud authority.CloudOptions) (engine, error) {
	c.perf.SetPreQueueTime(telemetry.EventGetClientConfiguration, correlationID)

	if authorityURL == "" {
		authorityURL = c.authority
	}
	c.perf.AddQueueMeasurement(telemetry.EventGetClientConfiguration, correlationID)
	cfg, err := c.resolver.Resolve(ctx, tm, authorityURL, cloud)
	if err != nil {
		return nil, err
	}
	return c.newEngine(cfg, c.perf), nil
}

// Logout always fails: a cache-only client has no session to terminate
// server-side or locally in a meaningful way. The failure is immediate so
// callers can branch without waiting on an operation that could never
// succeed.
func (c Client) Logout(ctx context.Context) error {
	return errors.ErrSilentLogoutUnsupported
}

// Accounts gets all the accounts in the token cache. If there are no
// accounts in the cache the returned slice is empty.
func (c Client) Accounts() []shared.Account {
	var s cache.Serializer = c.storage
	c.accessor.Replace(s)
	defer c.accessor.Export(s)
	return c.storage.AllAccounts()
}

// SeedCache records externally obtained credentials for later silent use.
// The silent client itself never writes tokens; hosts call this after an
// interactive or broker flow completes elsewhere.
func (c Client) SeedCache(authorityURL string, account shared.Account, params storage.WriteParams) (shared.Account, error) {
	info, err := authority.NewInfoFromAuthorityURI(authorityURL, true)
	if err != nil {
		return shared.Account{}, err
	}
	authParams := authority.NewAuthParams(c.clientID, info)
	authParams.HomeAccountID = account.HomeAccountID

	var s cache.Serializer = c.storage
	c.accessor.Replace(s)
	defer c.accessor.Export(s)
	return c.storage.Write(authParams, params)
}
