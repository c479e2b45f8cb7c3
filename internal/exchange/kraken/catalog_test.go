package kraken

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
			name:   "wsname preferred over key",
			status: http.StatusOK,
			body: `{"error":[],"result":{
				"XXBTZUSD":{"altname":"XBTUSD","wsname":"XBT/USD"},
				"XETHZEUR":{"altname":"ETHEUR","wsname":"ETH/EUR"},
				"DOTUSD":{"altname":"DOTUSD"}
			}}`,
			expected: []string{"XBT/USD", "ETH/EUR", "DOTUSD"},
		},
		{
			name:   "api error field",
			status: http.StatusOK,
			body:   `{"error":["EGeneral:Temporary lockout"],"result":{}}`,
		},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "malformed body", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got := NewCatalog(server.URL, time.Second, 1).FetchSupportedPairs(context.Background())

			if tt.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.ElementsMatch(t, tt.expected, got)
		})
	}
}
