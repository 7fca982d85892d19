package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/murmur/internal/grpcconn"
)

// ErrEmptyText reports a summary request without text.
var ErrEmptyText = errors.New("text is empty")

var _ Service = (*Client)(nil)

// Client implements Service over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to endpoint and waits for readiness.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Client, error) {
	conn, err := grpcconn.Dial(ctx, endpoint, timeout)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) StartSession(ctx context.Context) (SessionID, error) {
	resp, err := c.invoke(ctx, methodStartSession, nil)
	if err != nil {
		return "", err
	}
	id := sessionField(resp)
	if id == "" {
		return "", errors.New("service returned an empty session id")
	}
	return id, nil
}

func (c *Client) SubmitAudioChunk(ctx context.Context, id SessionID, seq uint64, data []byte) error {
	_, err := c.invoke(ctx, methodSubmitAudioChunk, map[string]any{
		fieldSessionID: string(id),
		fieldSeq:       float64(seq),
		fieldAudio:     base64.StdEncoding.EncodeToString(data),
	})
	return err
}

func (c *Client) SubmitTranscriptSegment(ctx context.Context, id SessionID, text string) error {
	_, err := c.invoke(ctx, methodSubmitTranscriptSegment, map[string]any{
		fieldSessionID: string(id),
		fieldText:      text,
	})
	return err
}

func (c *Client) FinalizeSession(ctx context.Context, id SessionID) (bool, error) {
	resp, err := c.invoke(ctx, methodFinalizeSession, map[string]any{fieldSessionID: string(id)})
	if err != nil {
		return false, err
	}
	return boolField(resp, fieldAccepted), nil
}

func (c *Client) FetchTranscript(ctx context.Context, id SessionID) (string, bool, error) {
	resp, err := c.invoke(ctx, methodFetchTranscript, map[string]any{fieldSessionID: string(id)})
	if errors.Is(err, ErrUnknownSession) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return stringField(resp, fieldText), boolField(resp, fieldFound), nil
}

func (c *Client) GenerateSummary(ctx context.Context, text string) (string, error) {
	resp, err := c.invoke(ctx, methodGenerateSummary, map[string]any{fieldText: text})
	if err != nil {
		return "", err
	}
	return stringField(resp, fieldSummary), nil
}

func (c *Client) ListRecordings(ctx context.Context) ([]Recording, error) {
	resp, err := c.invoke(ctx, methodListRecordings, nil)
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()[fieldRecordings].GetListValue().GetValues()
	recordings := make([]Recording, 0, len(values))
	for _, value := range values {
		recordings = append(recordings, decodeRecording(value))
	}
	return recordings, nil
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := newStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, fromStatus(err))
	}
	return resp, nil
}

// toStatus maps service errors onto gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrUnknownSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrSessionClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrEmptyText):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus restores sentinel errors from gRPC status codes.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrUnknownSession, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrSessionClosed, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrEmptyText, st.Message())
	default:
		return err
	}
}
