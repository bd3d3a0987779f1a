package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/backend/memory"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/delegation"
	"github.com/erain9/darkpool/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const market = "0x00000000000000000000000000000000000000f1"

// useBufconn points dial at an in-process server.
func useBufconn(t *testing.T) {
	t.Helper()
	manager := server.NewManager(server.Components{
		Store:      memory.NewMemoryBackend(),
		Authorizer: auth.NewSignatureGuard(),
		Delegator:  delegation.NewCustodian(),
	})
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	server.RegisterDarkPoolService(s, server.NewGRPCDarkPoolService(manager))
	go func() {
		_ = s.Serve(lis)
	}()

	orig := dial
	dial = func(string) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
				return lis.Dial()
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}
	t.Cleanup(func() {
		dial = orig
		s.Stop()
		_ = manager.Close()
	})
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	err := run(ctx, args, &out)
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := runCmd(t, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "private_key: ")
	assert.Contains(t, out, "identity:    0x000000000000000000000000")
}

func TestUsageErrors(t *testing.T) {
	_, err := runCmd(t)
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, "explode")
	assert.ErrorIs(t, err, errUsage)

	useBufconn(t)
	_, err = runCmd(t, "-caller", market, "place", "-market", market, "-id", "1")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, err.Error(), "-side")
}

func TestSignedSession(t *testing.T) {
	useBufconn(t)

	owner, err := auth.GenerateKey()
	require.NoError(t, err)
	counter, err := auth.GenerateKey()
	require.NoError(t, err)
	ownerKey := owner.PrivateKeyHex()
	counterKey := counter.PrivateKeyHex()

	out, err := runCmd(t, "-key", ownerKey, "init-book", "-market", market)
	require.NoError(t, err)
	assert.Contains(t, out, owner.Identity().Hex())

	_, err = runCmd(t, "-key", ownerKey, "place", "-market", market, "-id", "1", "-side", "buy", "-amount", "40", "-price", "20")
	require.NoError(t, err)
	_, err = runCmd(t, "-key", counterKey, "place", "-market", market, "-id", "9", "-side", "SELL", "-amount", "40", "-price", "18")
	require.NoError(t, err)

	out, err = runCmd(t, "-key", ownerKey, "delegate", "-id", "1")
	require.NoError(t, err)
	assert.Contains(t, out, core.Delegated.String())
	_, err = runCmd(t, "-key", counterKey, "delegate", "-id", "9", "-valid-for", "10m")
	require.NoError(t, err)

	out, err = runCmd(t, "-key", ownerKey, "match", "-market", market, "-trade", "3",
		"-buyer", owner.Identity().Hex(), "-buy-id", "1",
		"-seller", counter.Identity().Hex(), "-sell-id", "9")
	require.NoError(t, err)
	assert.Contains(t, out, core.Filled.String())

	out, err = runCmd(t, "-key", ownerKey, "get-trade", "-id", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "19")

	out, err = runCmd(t, "get-order", "-owner", counter.Identity().Hex(), "-id", "9")
	require.NoError(t, err)
	assert.Contains(t, out, core.Filled.String())

	out, err = runCmd(t, "list-trades", "-market", market)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "\n")+1)

	_, err = runCmd(t, "-key", counterKey, "pause", "-market", market)
	assert.True(t, core.IsKind(err, core.AuthorizationFailure), "got %v", err)

	out, err = runCmd(t, "-key", ownerKey, "pause", "-market", market)
	require.NoError(t, err)
	assert.Contains(t, out, "yes")

	_, err = runCmd(t, "-key", ownerKey, "resume", "-market", market)
	require.NoError(t, err)

	out, err = runCmd(t, "get-book", "-market", market)
	require.NoError(t, err)
	assert.Contains(t, out, "no")
}

func TestMissingIdentity(t *testing.T) {
	useBufconn(t)
	_, err := runCmd(t, "init-book", "-market", market)
	assert.EqualError(t, err, "either -key or -caller is required")
}
