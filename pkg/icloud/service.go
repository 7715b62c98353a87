package icloud

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Service is an authenticated session together with its transport and the
// account profile fetched at authentication time.
type Service struct {
	session   Session
	transport *Transport
	account   Account
}

func newService(session Session, transport *Transport, account Account) *Service {
	return &Service{session: session, transport: transport, account: account}
}

// Session returns a copy of the session material.
func (service *Service) Session() Session {
	return service.session.clone()
}

// Account returns the profile snapshot.
func (service *Service) Account() Account {
	return service.account
}

// Name returns the account's full name.
func (service *Service) Name() string {
	return service.account.Info.FullName
}

// Email returns the account's primary email.
func (service *Service) Email() string {
	return service.account.Info.Email
}

// Transport returns the shared transport.
func (service *Service) Transport() *Transport {
	return service.transport
}

// SerializeSession encodes the session for later use with Resume.
func (service *Service) SerializeSession() ([]byte, error) {
	return service.session.Serialize()
}

// SaveCookies flushes the cookie jar to its well-known path.
func (service *Service) SaveCookies() error {
	return service.transport.SaveCookies()
}

// Cookies returns a snapshot of the cookie jar.
func (service *Service) Cookies() []*http.Cookie {
	return service.transport.Cookies()
}

// ServiceURL resolves the base URL of a named web service.
func (service *Service) ServiceURL(name string) (string, error) {
	webService, ok := service.account.WebServices.Lookup(name)
	if !ok || strings.TrimSpace(webService.URL) == "" {
		return "", fmt.Errorf("icloud.service_url: %w: %s", ErrProfileShape, name)
	}
	return strings.TrimRight(webService.URL, "/"), nil
}

// QueryParam is one ordered query parameter.
type QueryParam struct {
	Name  string
	Value string
}

// Fetch issues a GET against a web service discovered in the profile and
// returns the raw body. Parameters keep their order on the URL.
func (service *Service) Fetch(ctx context.Context, serviceName string, path string, params []QueryParam) (string, error) {
	base, err := service.ServiceURL(serviceName)
	if err != nil {
		return "", err
	}
	operation := "icloud.fetch." + serviceName
	response, err := service.transport.get(ctx, operation, base+path+encodeOrdered(params))
	if err != nil {
		return "", err
	}
	switch {
	case response.succeeded():
		return string(response.body), nil
	case response.status == http.StatusUnauthorized || response.status == http.StatusForbidden || response.status == http.StatusMisdirectedRequest:
		return "", fmt.Errorf("%s: %w: status %d", operation, ErrStaleSession, response.status)
	default:
		return "", fmt.Errorf("%s: %w: status %d", operation, ErrAuthRejected, response.status)
	}
}
