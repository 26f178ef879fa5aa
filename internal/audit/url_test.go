package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://Example.COM/page", "https://example.com/page"},
		{"strips default https port", "https://example.com:443/page", "https://example.com/page"},
		{"strips default http port", "http://example.com:80/", "http://example.com"},
		{"keeps custom port", "https://example.com:8443/x", "https://example.com:8443/x"},
		{"drops fragment", "https://example.com/page#section", "https://example.com/page"},
		{"strips trailing slash", "https://example.com/page/", "https://example.com/page"},
		{"sorts query params", "https://example.com/?b=2&a=1", "https://example.com?a=1&b=2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestValidateTarget_AcceptsPublicHTTP(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTarget("https://example.com"))
	require.NoError(t, ValidateTarget("http://example.com/path?q=1"))
}

func TestValidateTarget_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"ftp scheme", "ftp://example.com", ErrInvalidURL},
		{"relative url", "/just/a/path", ErrInvalidURL},
		{"missing host", "https://", ErrInvalidURL},
		{"localhost", "http://localhost:3000", ErrPrivateAddress},
		{"loopback ip", "http://127.0.0.1/admin", ErrPrivateAddress},
		{"private ip", "http://192.168.1.10", ErrPrivateAddress},
		{"link local", "http://169.254.169.254/latest/meta-data", ErrPrivateAddress},
		{"mdns suffix", "http://printer.local", ErrPrivateAddress},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateTarget(tc.in)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}
