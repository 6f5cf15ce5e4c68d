package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gpurent/internal/marketplace"
)

func TestConnectRejectsUnpopulatedEndpoint(t *testing.T) {
	_, err := Connect(context.Background(), marketplace.Endpoint{}, Credential{Password: "x"}, DefaultConnectOptions())
	require.Error(t, err)
}

func TestConnectRequiresCredential(t *testing.T) {
	endpoint := marketplace.Endpoint{Host: "127.0.0.1", Port: 22, User: "root"}

	_, err := Connect(context.Background(), endpoint, Credential{}, DefaultConnectOptions())
	require.Error(t, err)
}

func TestConnectExhaustsRetries(t *testing.T) {
	// Port 1 refuses connections; every attempt fails fast.
	endpoint := marketplace.Endpoint{Host: "127.0.0.1", Port: 1, User: "root"}

	opts := ConnectOptions{Retries: 2, Delay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := Connect(context.Background(), endpoint, Credential{Password: "x"}, opts)
	require.Error(t, err)
}

func TestConnectCancelledContext(t *testing.T) {
	endpoint := marketplace.Endpoint{Host: "127.0.0.1", Port: 1, User: "root"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, endpoint, Credential{Password: "x"}, DefaultConnectOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := &Session{}

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestShellQuote(t *testing.T) {
	require.Equal(t, "'/workspace/output'", shellQuote("/workspace/output"))
	require.Equal(t, `'it'\''s here'`, shellQuote("it's here"))
}
