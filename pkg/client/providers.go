package client

import (
	"encoding/base64"
	"net/http"
)

// SessionProvider builds the authentication part of the sessions request.
// Implementations set headers (Basic auth, OAuth ids, FMID bearer) and body
// entries (external data sources) on the login POST.
type SessionProvider interface {
	Apply(header http.Header, body map[string]any)
}

// DataSource grants the session access to an external FileMaker file. Either
// the username/password pair or the OAuth pair is set.
type DataSource struct {
	Database        string `json:"database"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	OAuthRequestID  string `json:"oAuthRequestId,omitempty"`
	OAuthIdentifier string `json:"oAuthIdentifier,omitempty"`
}

// UsernamePassword authenticates with a FileMaker account over HTTP Basic.
type UsernamePassword struct {
	Username    string
	Password    string
	DataSources []DataSource
}

func (p UsernamePassword) Apply(header http.Header, body map[string]any) {
	credentials := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
	header.Set("Authorization", "Basic "+credentials)
	applyDataSources(body, p.DataSources)
}

// OAuth authenticates with a provider-issued request id and identifier, as
// produced by the FileMaker OAuth handshake.
type OAuth struct {
	RequestID   string
	Identifier  string
	DataSources []DataSource
}

func (p OAuth) Apply(header http.Header, body map[string]any) {
	header.Set("X-FM-Data-OAuth-Request-Id", p.RequestID)
	header.Set("X-FM-Data-OAuth-Identifier", p.Identifier)
	applyDataSources(body, p.DataSources)
}

// ClarisCloud authenticates against a Claris Cloud host with an FMID token.
type ClarisCloud struct {
	FMIDToken   string
	DataSources []DataSource
}

func (p ClarisCloud) Apply(header http.Header, body map[string]any) {
	header.Set("Authorization", "FMID "+p.FMIDToken)
	applyDataSources(body, p.DataSources)
}

func applyDataSources(body map[string]any, sources []DataSource) {
	if len(sources) > 0 {
		body["fmDataSource"] = sources
	}
}
