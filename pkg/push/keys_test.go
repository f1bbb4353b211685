package push

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"
)

func generateVAPIDKeys() (string, string, error) {
	return webpush.GenerateVAPIDKeys()
}

// testSubscription builds a browser-like subscription with a real P-256 key
// so payload encryption succeeds.
func testSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}
