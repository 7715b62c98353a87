package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	cookiejar "github.com/juju/persistent-cookiejar"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const maxResponseBytes = 16 << 20

// Transport is the HTTP client shared by every call of one session. It owns
// the cookie jar; callers see it only through Cookies and SaveCookies.
type Transport struct {
	configuration Config
	client        *http.Client
	jar           *cookiejar.Jar
	cookiePath    string
	saveMutex     sync.Mutex
}

// NewTransport validates configuration and loads the cookie jar from
// Config.CookiePath when the file exists. A missing file yields an empty jar;
// an unreadable one is an error.
func NewTransport(configuration Config) (*Transport, error) {
	normalized, err := configuration.normalized()
	if err != nil {
		return nil, err
	}
	cookiePath := normalized.CookiePath()
	jar, jarErr := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
		Filename:         cookiePath,
	})
	if jarErr != nil {
		return nil, fmt.Errorf("icloud.transport.load_cookies: %w", jarErr)
	}
	base := normalized.HTTPTransport
	if base == nil {
		base = http.DefaultTransport
	}
	defaults := http.Header{}
	defaults.Set("Origin", normalized.HomeEndpoint)
	defaults.Set("Referer", normalized.HomeEndpoint+"/")
	return &Transport{
		configuration: normalized,
		client: &http.Client{
			Jar:       jar,
			Timeout:   normalized.RequestTimeout,
			Transport: &defaultHeaderTransport{base: base, headers: defaults},
		},
		jar:        jar,
		cookiePath: cookiePath,
	}, nil
}

// Config returns the normalized configuration.
func (transport *Transport) Config() Config {
	return transport.configuration
}

// CookiePath returns the file the jar is loaded from and saved to.
func (transport *Transport) CookiePath() string {
	return transport.cookiePath
}

// Cookies returns a snapshot of every unexpired cookie in the jar.
func (transport *Transport) Cookies() []*http.Cookie {
	return transport.jar.AllCookies()
}

// SaveCookies overwrites the cookie file with the persistent cookies
// currently held. Session cookies without an expiry are not written.
func (transport *Transport) SaveCookies() error {
	transport.saveMutex.Lock()
	defer transport.saveMutex.Unlock()

	data, marshalErr := transport.jar.MarshalJSON()
	if marshalErr != nil {
		return fmt.Errorf("icloud.transport.save_cookies: %w", marshalErr)
	}
	if err := os.MkdirAll(filepath.Dir(transport.cookiePath), 0o700); err != nil {
		return fmt.Errorf("icloud.transport.save_cookies: %w", err)
	}
	temporaryPath := transport.cookiePath + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0o600); err != nil {
		return fmt.Errorf("icloud.transport.save_cookies: %w", err)
	}
	if err := os.Rename(temporaryPath, transport.cookiePath); err != nil {
		return fmt.Errorf("icloud.transport.save_cookies: %w", err)
	}
	transport.configuration.Metrics.Increment(EventCookiesSaved)
	transport.configuration.Logger.Debug("cookies saved",
		zap.String("code", "icloud.cookies.saved"),
		zap.String("path", transport.cookiePath))
	return nil
}

// exchange is a fully read response.
type exchange struct {
	status int
	header http.Header
	body   []byte
}

func (response exchange) succeeded() bool {
	return response.status >= 200 && response.status < 300
}

func (transport *Transport) postJSON(ctx context.Context, operation string, target string, headers http.Header, payload any) (exchange, error) {
	var body io.Reader
	if payload != nil {
		encoded, encodeErr := json.Marshal(payload)
		if encodeErr != nil {
			return exchange{}, fmt.Errorf("%s: encode request: %w", operation, encodeErr)
		}
		body = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if requestErr != nil {
		return exchange{}, fmt.Errorf("%s: %w: %w", operation, ErrTransport, requestErr)
	}
	for name, values := range headers {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	if payload != nil && request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}
	return transport.execute(operation, request)
}

func (transport *Transport) get(ctx context.Context, operation string, target string) (exchange, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if requestErr != nil {
		return exchange{}, fmt.Errorf("%s: %w: %w", operation, ErrTransport, requestErr)
	}
	return transport.execute(operation, request)
}

func (transport *Transport) execute(operation string, request *http.Request) (exchange, error) {
	response, doErr := transport.client.Do(request)
	if doErr != nil {
		return exchange{}, fmt.Errorf("%s: %w: %w", operation, ErrTransport, doErr)
	}
	defer response.Body.Close()
	data, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return exchange{}, fmt.Errorf("%s: %w: %w", operation, ErrTransport, readErr)
	}
	return exchange{status: response.StatusCode, header: response.Header, body: data}, nil
}

// defaultHeaderTransport adds Origin and Referer unless a request sets them.
type defaultHeaderTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (roundTripper *defaultHeaderTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	clone := request.Clone(request.Context())
	for name, values := range roundTripper.headers {
		if clone.Header.Get(name) != "" {
			continue
		}
		for _, value := range values {
			clone.Header.Add(name, value)
		}
	}
	return roundTripper.base.RoundTrip(clone)
}
