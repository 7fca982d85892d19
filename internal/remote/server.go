package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
)

// Serve exposes svc on listener until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, svc Service, logger *slog.Logger) error {
	server := grpc.NewServer()
	RegisterService(server, svc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	if logger != nil {
		logger.Info("transcription service listening", "addr", listener.Addr().String())
	}

	select {
	case <-ctx.Done():
		server.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve transcription service: %w", err)
	}
}
