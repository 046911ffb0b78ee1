// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package authority handles the identity-provider endpoint a request is
// scoped to: parsing authority URIs, applying sovereign-cloud overrides and
// discovering the aliases an authority host is known by.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/thiagoschreck/msal-browser-go/apps/errors"
)

// Authority types.
const (
	AAD  = "MSSTS"
	ADFS = "ADFS"
)

// CloudInstance is a sovereign or public cloud environment.
type CloudInstance string

// Well-known cloud instance hosts.
const (
	AzurePublic     CloudInstance = "login.microsoftonline.com"
	AzureChina      CloudInstance = "login.chinacloudapi.cn"
	AzureGovernment CloudInstance = "login.microsoftonline.us"
)

// CloudOptions selects a cloud environment for a single request, overriding
// the host of the client's configured authority. Tenant, when set, also
// overrides the authority's tenant.
type CloudOptions struct {
	AzureCloudInstance CloudInstance
	Tenant             string
}

// IsZero reports whether no override is requested.
func (c CloudOptions) IsZero() bool {
	return c.AzureCloudInstance == "" && c.Tenant == ""
}

// Info consists of the authority's parsed parts.
type Info struct {
	Host          string
	Tenant        string
	AuthorityType string
	CanonicalURI  string
}

func resolutionError(desc string) error {
	return &errors.AuthError{Code: errors.CodeAuthorityResolution, Desc: desc}
}

func firstPathSegment(u *url.URL) (string, error) {
	pathParts := strings.Split(u.EscapedPath(), "/")
	if len(pathParts) >= 2 && pathParts[1] != "" {
		return pathParts[1], nil
	}
	return "", resolutionError("authority does not have two segments of the form https://<instance>/<tenant>")
}

// NewInfoFromAuthorityURI creates an Info instance from the authority URL
// provided.
func NewInfoFromAuthorityURI(authorityURI string, validate bool) (Info, error) {
	u, err := url.Parse(strings.ToLower(authorityURI))
	if err != nil || u.Scheme != "https" {
		return Info{}, resolutionError("authority URI is not a valid https URL")
	}

	tenant, err := firstPathSegment(u)
	if err != nil {
		return Info{}, err
	}
	authorityType := AAD
	if tenant == "adfs" {
		authorityType = ADFS
	}
	if validate && authorityType == AAD && tenant == "" {
		return Info{}, resolutionError("authority is missing a tenant")
	}

	return Info{
		Host:          u.Host,
		Tenant:        tenant,
		AuthorityType: authorityType,
		CanonicalURI:  fmt.Sprintf("https://%s/%s", u.Host, tenant),
	}, nil
}

// ApplyCloudOptions rewrites the authority for a per-request cloud override.
// A zero CloudOptions returns info unchanged.
func ApplyCloudOptions(info Info, opts CloudOptions) Info {
	if opts.IsZero() {
		return info
	}
	if opts.AzureCloudInstance != "" {
		info.Host = string(opts.AzureCloudInstance)
	}
	if opts.Tenant != "" {
		info.Tenant = strings.ToLower(opts.Tenant)
	}
	info.CanonicalURI = fmt.Sprintf("https://%s/%s", info.Host, info.Tenant)
	return info
}

// AuthParams represents the parameters used to search the cache for a
// request.
type AuthParams struct {
	ClientID      string
	AuthorityInfo Info
	Scopes        []string
	HomeAccountID string
	CorrelationID string
}

// NewAuthParams creates an authorization parameters object.
func NewAuthParams(clientID string, authorityInfo Info) AuthParams {
	return AuthParams{ClientID: clientID, AuthorityInfo: authorityInfo}
}

// InstanceDiscoveryMetadata is the metadata the discovery endpoint reports
// for one environment.
type InstanceDiscoveryMetadata struct {
	PreferredNetwork string   `json:"preferred_network"`
	PreferredCache   string   `json:"preferred_cache"`
	Aliases          []string `json:"aliases"`

	AdditionalFields map[string]interface{}
}

// InstanceDiscoveryResponse is the body of a successful discovery call.
type InstanceDiscoveryResponse struct {
	TenantDiscoveryEndpoint string                      `json:"tenant_discovery_endpoint"`
	Metadata                []InstanceDiscoveryMetadata `json:"metadata"`

	AdditionalFields map[string]interface{}
}

const instanceDiscoveryEndpoint = "https://%s/common/discovery/instance?api-version=1.1&authorization_endpoint=https://%s/%s/oauth2/v2.0/authorize"

// jsonCaller is implemented by *http.Client and test doubles.
type jsonCaller interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client makes the calls needed to resolve an authority's metadata.
type Client struct {
	HTTPClient jsonCaller
}

// AADInstanceDiscovery attempts to discover the environment metadata for the
// authority host.
func (c Client) AADInstanceDiscovery(ctx context.Context, authorityInfo Info) (InstanceDiscoveryResponse, error) {
	endpoint := fmt.Sprintf(instanceDiscoveryEndpoint, authorityInfo.Host, authorityInfo.Host, authorityInfo.Tenant)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return InstanceDiscoveryResponse{}, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return InstanceDiscoveryResponse{}, errors.CallErr{Req: req, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return InstanceDiscoveryResponse{}, errors.CallErr{Req: req, Resp: resp, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return InstanceDiscoveryResponse{}, errors.CallErr{
			Req:  req,
			Resp: resp,
			Err:  fmt.Errorf("instance discovery returned status %d", resp.StatusCode),
		}
	}

	var idr InstanceDiscoveryResponse
	if err := json.Unmarshal(body, &idr); err != nil {
		return InstanceDiscoveryResponse{}, errors.CallErr{Req: req, Resp: resp, Err: err}
	}
	return idr, nil
}
