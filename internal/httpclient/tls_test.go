package httpclient

import (
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureTLSNilConfig(t *testing.T) {
	transport, err := ConfigureTLS(nil)
	require.NoError(t, err)
	require.False(t, transport.TLSClientConfig.InsecureSkipVerify)
	require.Nil(t, transport.TLSClientConfig.RootCAs)
}

func TestConfigureTLSInsecureSkipVerify(t *testing.T) {
	transport, err := ConfigureTLS(&TLSConfig{InsecureSkipVerify: true})
	require.NoError(t, err)
	require.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestConfigureTLSMissingCACertificate(t *testing.T) {
	_, err := ConfigureTLS(&TLSConfig{CACertificate: "/does/not/exist.pem"})
	require.Error(t, err)
}

func TestConfigureTLSInvalidCACertificate(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad-ca-*.pem")
	require.NoError(t, err)
	_, err = f.WriteString("not a certificate")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = ConfigureTLS(&TLSConfig{CACertificate: f.Name()})
	require.Error(t, err)
}

func TestWithTLSConfigAppliesTransport(t *testing.T) {
	c := New(WithTLSConfig(&TLSConfig{InsecureSkipVerify: true}))
	transport, ok := c.client.Transport.(*http.Transport)
	require.True(t, ok)
	require.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestWithTLSConfigNilIsNoop(t *testing.T) {
	c := New(WithTLSConfig(nil))
	require.Nil(t, c.client.Transport)
}
