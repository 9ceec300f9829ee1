package modelinfo

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCache_LookupKnownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"gpt-test":{"max_input_tokens":128000,"max_tokens":4096,"supports_vision":true}}`)
	}))
	defer srv.Close()

	c := newForTest(srv.URL)
	info, ok, err := c.Lookup("gpt-test")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if !ok {
		t.Fatalf("Lookup ok = false, want true")
	}
	if info.MaxInputTokens != 128000 || info.MaxOutputTokens != 4096 || !info.SupportsImages {
		t.Fatalf("got %+v", info)
	}
	if info.Name != "gpt-test" {
		t.Fatalf("got Name %q, want gpt-test", info.Name)
	}
}

func TestCache_LookupUnknownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"gpt-test":{"max_input_tokens":1}}`)
	}))
	defer srv.Close()

	c := newForTest(srv.URL)
	info, ok, err := c.Lookup("not-in-the-table")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if ok || info != nil {
		t.Fatalf("got (%v, %v), want (nil, false)", info, ok)
	}
}

func TestCache_FetchFailureIsCachedAndReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newForTest(srv.URL)
	if _, _, err := c.Lookup("m"); err == nil {
		t.Fatalf("expected an error on a non-200 response")
	}
	// The failure is sticky: a second call must not silently succeed
	// despite the singleton fetch having already run once.
	if _, _, err := c.Lookup("m"); err == nil {
		t.Fatalf("expected the cached fetch failure to persist across calls")
	}
}

func TestCache_LoadOnlyFetchesOnce(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"m":{"max_input_tokens":1}}`)
	}))
	defer srv.Close()

	c := newForTest(srv.URL)
	for i := 0; i < 3; i++ {
		if _, _, err := c.Lookup("m"); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}
	if hits != 1 {
		t.Fatalf("got %d HTTP requests, want exactly 1 (sync.Once)", hits)
	}
}
