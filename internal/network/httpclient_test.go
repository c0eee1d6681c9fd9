// File: internal/network/httpclient_test.go
package network

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultClientConfig(t *testing.T) {
	t.Parallel()
	cfg := NewDefaultClientConfig()

	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.True(t, cfg.ForceHTTP2)
	assert.False(t, cfg.IgnoreTLSErrors)
	assert.NotNil(t, cfg.Logger)
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		t.Parallel()
		client := NewClient(nil)
		require.NotNil(t, client)
		assert.Equal(t, DefaultRequestTimeout, client.Timeout)
	})

	t.Run("performs plain requests", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		client := NewClient(&ClientConfig{RequestTimeout: 5 * time.Second})
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("rejects self-signed certs unless configured otherwise", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		strict := NewClient(&ClientConfig{RequestTimeout: 5 * time.Second})
		_, err := strict.Get(srv.URL)
		assert.Error(t, err, "self-signed cert should fail verification")

		lax := NewClient(&ClientConfig{RequestTimeout: 5 * time.Second, IgnoreTLSErrors: true})
		resp, err := lax.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	})
}

func TestConfigureTLS(t *testing.T) {
	t.Parallel()

	t.Run("defaults enforce TLS 1.2 minimum", func(t *testing.T) {
		t.Parallel()
		cfg := configureTLS(&ClientConfig{})
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.False(t, cfg.InsecureSkipVerify)
	})

	t.Run("clones a provided config rather than mutating it", func(t *testing.T) {
		t.Parallel()
		original := &tls.Config{MinVersion: tls.VersionTLS13}
		out := configureTLS(&ClientConfig{TLSConfig: original, IgnoreTLSErrors: true})
		assert.True(t, out.InsecureSkipVerify)
		assert.False(t, original.InsecureSkipVerify, "original must not be modified")
	})
}
