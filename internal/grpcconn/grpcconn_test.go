package grpcconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestDialRejectsEmptyEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), "  ", time.Second)
	require.ErrorContains(t, err, "empty")
}

func TestDialWaitsForReadyServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	conn, err := Dial(context.Background(), lis.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDialTimesOutWithoutServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	_, err = Dial(context.Background(), addr, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "readiness")
}
