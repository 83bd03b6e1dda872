package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSearchFiltersAndJoins(t *testing.T) {
	requests := make(chan searchRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"text":"Leaseholds run 50 years.","score":0.82},
			{"text":"Unrelated snippet","score":0.3},
			{"text":"Renewable for 25 years.","score":0.41},
			{"text":"Noise","score":0.05}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", MinScore: 0.3})
	out := c.Search(context.Background(), "how long is a leasehold?")

	assert.Equal(t, "Leaseholds run 50 years.\n\nRenewable for 25 years.", out)
	got := <-requests
	assert.Equal(t, "how long is a leasehold?", got.Query)
	assert.Equal(t, 3, got.TopK)
}

func TestSearchDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"results":[`))
			},
		},
		{
			name: "slow service",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, MinScore: 0.3})
			start := time.Now()
			assert.Equal(t, "", c.Search(context.Background(), "anything"))
			assert.Less(t, time.Since(start), 900*time.Millisecond)
		})
	}
}

func TestSearchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Timeout: 200 * time.Millisecond})
	assert.Equal(t, "", c.Search(context.Background(), "q"))
}

func TestDisabledClient(t *testing.T) {
	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.Equal(t, "", nilClient.Search(context.Background(), "q"))

	c := NewClient(Config{})
	assert.False(t, c.Enabled())
	snippets, err := c.Lookup(context.Background(), "q")
	assert.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	assert.Equal(t, "", NewClient(Config{BaseURL: srv.URL}).Search(context.Background(), "q"))
}
