package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tyemirov/nefos/internal/emulator"
)

func TestFetchCalendarEventsQuery(t *testing.T) {
	backend := startBackend(t, emulator.Faults{})
	service := signInService(t, backend.transport(t, t.TempDir()), plainAccount)

	body, err := service.FetchCalendarEvents(context.Background(), "America/Chicago", "2023-11-01", "2023-11-30")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	requests := backend.requestsTo(emulator.CalendarPrefix + "/ca/events")
	if len(requests) != 1 {
		t.Fatalf("expected one calendar request, got %d", len(requests))
	}
	expectedQuery := "lang=en-us&usertz=America%2FChicago&startDate=2023-11-01&endDate=2023-11-30"
	if requests[0].RawQuery != expectedQuery {
		t.Fatalf("expected query %q, got %q", expectedQuery, requests[0].RawQuery)
	}
	calendarURL, err := service.ServiceURL("calendar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(calendarURL, backend.server.URL) {
		t.Fatalf("expected calendar url on the emulator, got %s", calendarURL)
	}

	var echoed struct {
		Query map[string]string `json:"query"`
	}
	if err := json.Unmarshal([]byte(body), &echoed); err != nil {
		t.Fatalf("expected raw JSON body, got %q", body)
	}
	if echoed.Query["usertz"] != "America/Chicago" {
		t.Fatalf("unexpected echoed query: %v", echoed.Query)
	}
}

func TestFetchUsesAccountCookies(t *testing.T) {
	backend := startBackend(t, emulator.Faults{})
	transport := backend.transport(t, t.TempDir())
	service := signInService(t, transport, plainAccount)

	found := false
	for _, cookie := range service.Cookies() {
		if cookie.Name == emulator.WebAuthCookieName {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the token exchange to set %s", emulator.WebAuthCookieName)
	}
	if _, err := service.FetchCalendarEvents(context.Background(), "UTC", "a", "b"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	request := backend.requestsTo(emulator.CalendarPrefix + "/ca/events")[0]
	if !strings.Contains(request.Header.Get("Cookie"), emulator.WebAuthCookieName) {
		t.Fatalf("expected cookie on calendar request, got %q", request.Header.Get("Cookie"))
	}
}

func TestFetchUnknownService(t *testing.T) {
	backend := startBackend(t, emulator.Faults{})
	service := signInService(t, backend.transport(t, t.TempDir()), plainAccount)

	_, err := service.Fetch(context.Background(), "streams", "/", nil)
	if !errors.Is(err, ErrProfileShape) {
		t.Fatalf("expected profile shape error, got %v", err)
	}
}

func TestEncodeOrdered(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		params   []QueryParam
		expected string
	}{
		{name: "empty", params: nil, expected: ""},
		{name: "keeps order", params: calendarParams("en-us", "Europe/Paris", "2024-01-01", "2024-01-31"), expected: "?lang=en-us&usertz=Europe%2FParis&startDate=2024-01-01&endDate=2024-01-31"},
		{name: "escapes values", params: []QueryParam{{Name: "q", Value: "a b&c"}}, expected: "?q=a+b%26c"},
	}
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if actual := encodeOrdered(testCase.params); actual != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, actual)
			}
		})
	}
}
