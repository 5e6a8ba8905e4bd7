package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

type credentials struct {
	apiKey    string
	appSecret string
}

// strategy builds the provider-specific request. The set is closed.
type strategy interface {
	id() domain.ProviderID
	defaultBaseURL() string
	needsSecret() bool
	newRequest(ctx context.Context, base *url.URL, key domain.AccessKey, creds credentials) (*http.Request, error)
}

var strategies = map[domain.ProviderID]strategy{
	domain.ProviderSerpro:   serproStrategy{},
	domain.ProviderOobj:     oobjStrategy{},
	domain.ProviderWebmania: webmaniaStrategy{},
}

// serproStrategy: GET {base}/nfe/{key} with a bearer token.
type serproStrategy struct{}

func (serproStrategy) id() domain.ProviderID { return domain.ProviderSerpro }
func (serproStrategy) defaultBaseURL() string {
	return "https://gateway.apiserpro.serpro.gov.br/consulta-nfe-df/api/v1"
}
func (serproStrategy) needsSecret() bool { return false }

func (serproStrategy) newRequest(ctx context.Context, base *url.URL, key domain.AccessKey, creds credentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("nfe", key.String()).String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.apiKey)
	req.Header.Set("Accept", "application/json, application/xml")
	return req, nil
}

// oobjStrategy: POST {base} with {"chave": key} and a token header.
type oobjStrategy struct{}

func (oobjStrategy) id() domain.ProviderID  { return domain.ProviderOobj }
func (oobjStrategy) defaultBaseURL() string { return "https://api.oobj-dfe.com.br/api/consulta-nfce" }
func (oobjStrategy) needsSecret() bool      { return false }

func (oobjStrategy) newRequest(ctx context.Context, base *url.URL, key domain.AccessKey, creds credentials) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{"chave": key.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal oobj request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization-Token", creds.apiKey)
	return req, nil
}

// webmaniaStrategy: GET {base}/{key} with an app key and secret pair.
type webmaniaStrategy struct{}

func (webmaniaStrategy) id() domain.ProviderID  { return domain.ProviderWebmania }
func (webmaniaStrategy) defaultBaseURL() string { return "https://webmaniabr.com/api/1/nfe/consulta" }
func (webmaniaStrategy) needsSecret() bool      { return true }

func (webmaniaStrategy) newRequest(ctx context.Context, base *url.URL, key domain.AccessKey, creds credentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath(key.String()).String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-App-Key", creds.apiKey)
	req.Header.Set("X-App-Secret", creds.appSecret)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
