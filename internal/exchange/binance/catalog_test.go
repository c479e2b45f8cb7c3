package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCatalog_FetchSupportedPairs(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected []string
	}{
		{
			name:   "symbols listed",
			status: http.StatusOK,
			body: `{"timezone":"UTC","symbols":[
				{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT"},
				{"symbol":"ETHBTC","baseAsset":"ETH","quoteAsset":"BTC"},
				{"symbol":"BROKEN","baseAsset":"","quoteAsset":"USDT"}
			]}`,
			expected: []string{"BTC/USDT", "ETH/BTC"},
		},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, expected: nil},
		{name: "malformed body", status: http.StatusOK, body: `{"symbols":[`, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			catalog := NewCatalog(server.URL, time.Second, 1)
			got := catalog.FetchSupportedPairs(context.Background())

			if tt.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCatalog_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	catalog := NewCatalog(server.URL, 50*time.Millisecond, 1)
	assert.Empty(t, catalog.FetchSupportedPairs(context.Background()))
}
