package icloud

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/nefos/internal/emulator"
	"go.uber.org/zap/zaptest"
)

const (
	plainAccount   = "plain@example.com"
	guardedAccount = "guarded@example.com"
	testPassword   = "secret"
	testCode       = "123456"
)

type testBackend struct {
	emulator *emulator.Server
	server   *httptest.Server
}

func startBackend(t *testing.T, faults emulator.Faults) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake, err := emulator.New(emulator.Config{
		Accounts: []emulator.Account{
			{AccountName: plainAccount, Password: testPassword, FirstName: "Plain", LastName: "User", LanguageCode: "en-us"},
			{AccountName: guardedAccount, Password: testPassword, SecurityCode: testCode, AccountCountry: "CAN", FirstName: "Guarded", LastName: "User", LanguageCode: "en-ca"},
		},
		SigningKey: []byte("icloud-test-key"),
		Logger:     zaptest.NewLogger(t),
		Faults:     faults,
	})
	if err != nil {
		t.Fatalf("failed to build emulator: %v", err)
	}
	server := httptest.NewServer(fake.Handler())
	t.Cleanup(server.Close)
	return &testBackend{emulator: fake, server: server}
}

func (backend *testBackend) config(t *testing.T, configDir string) Config {
	t.Helper()
	configuration := DefaultConfig(configDir)
	configuration.AuthEndpoint = backend.server.URL + emulator.AuthPrefix
	configuration.SetupEndpoint = backend.server.URL + emulator.SetupPrefix
	configuration.Logger = zaptest.NewLogger(t)
	return configuration
}

func (backend *testBackend) transport(t *testing.T, configDir string) *Transport {
	t.Helper()
	transport, err := NewTransport(backend.config(t, configDir))
	if err != nil {
		t.Fatalf("failed to build transport: %v", err)
	}
	return transport
}

func (backend *testBackend) requestsTo(path string) []emulator.RecordedRequest {
	var matched []emulator.RecordedRequest
	for _, request := range backend.emulator.Recorded() {
		if request.Path == path {
			matched = append(matched, request)
		}
	}
	return matched
}

func signInService(t *testing.T, transport *Transport, accountName string) *Service {
	t.Helper()
	auth, err := SignIn(t.Context(), transport, Credentials{AccountName: accountName, Password: testPassword}, SignInOptions{})
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	service, resolveErr := auth.Resolve(t.Context(), CodeProviderFunc(func(ctx context.Context) (string, error) {
		return testCode, nil
	}))
	if resolveErr != nil {
		t.Fatalf("resolve failed: %v", resolveErr)
	}
	return service
}

func writeFile(t *testing.T, dir string, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
