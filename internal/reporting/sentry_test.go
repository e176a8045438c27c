package reporting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	t.Run("connection reset by peer", func(t *testing.T) {
		t.Parallel()

		err := `inventory temporarily unavailable: Get "https://inventory.internal/api/v1/segments": read tcp [dead:beef:feb1:d745::c001]:64079->[dead:beef::6811:112a]:443: read: connection reset by peer`
		want := `inventory temporarily unavailable: Get "https://inventory.internal/api/v1/segments": read tcp <host>-><host>: read: connection reset by peer`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("auth token is redacted", func(t *testing.T) {
		t.Parallel()

		err := `unexpected status 403 with auth Token deadbeefcafe0123`
		want := `unexpected status 403 with auth Token <redacted>`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("misc ipv6 hosts", func(t *testing.T) {
		t.Parallel()

		ips := []string{
			`1:2:3:4:5:6:7:8`,
			`1::`,
			`1::8`,
			`1:2:3:4:5:6::8`,
			`::2:3:4:5:6:7:8`,
			`::8`,
			`::`,
		}
		for _, ip := range ips {
			t.Run(ip, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, "<host>", sanitizeError(fmt.Sprintf("[%s]:1234", ip)))
			})
		}
	})
}
