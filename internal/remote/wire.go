package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "murmur.transcription.v1.TranscriptionService"

const (
	methodStartSession            = "/" + ServiceName + "/StartSession"
	methodSubmitAudioChunk        = "/" + ServiceName + "/SubmitAudioChunk"
	methodSubmitTranscriptSegment = "/" + ServiceName + "/SubmitTranscriptSegment"
	methodFinalizeSession         = "/" + ServiceName + "/FinalizeSession"
	methodFetchTranscript         = "/" + ServiceName + "/FetchTranscript"
	methodGenerateSummary         = "/" + ServiceName + "/GenerateSummary"
	methodListRecordings          = "/" + ServiceName + "/ListRecordings"
)

// Message field names.
const (
	fieldSessionID  = "session_id"
	fieldSeq        = "seq"
	fieldAudio      = "audio"
	fieldText       = "text"
	fieldAccepted   = "accepted"
	fieldFound      = "found"
	fieldSummary    = "summary"
	fieldRecordings = "recordings"
	fieldCreatedAt  = "created_at"
	fieldFinalized  = "finalized"
	fieldChunks     = "audio_chunks"
	fieldBytes      = "audio_bytes"
	fieldSegments   = "segments"
	fieldPreview    = "preview"
)

// serviceDesc routes each method to a Service implementation. Messages are
// google.protobuf.Struct on both sides.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartSession", Handler: structHandler(methodStartSession, handleStartSession)},
		{MethodName: "SubmitAudioChunk", Handler: structHandler(methodSubmitAudioChunk, handleSubmitAudioChunk)},
		{MethodName: "SubmitTranscriptSegment", Handler: structHandler(methodSubmitTranscriptSegment, handleSubmitTranscriptSegment)},
		{MethodName: "FinalizeSession", Handler: structHandler(methodFinalizeSession, handleFinalizeSession)},
		{MethodName: "FetchTranscript", Handler: structHandler(methodFetchTranscript, handleFetchTranscript)},
		{MethodName: "GenerateSummary", Handler: structHandler(methodGenerateSummary, handleGenerateSummary)},
		{MethodName: "ListRecordings", Handler: structHandler(methodListRecordings, handleListRecordings)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "murmur/transcription/v1/transcription.proto",
}

// RegisterService exposes svc on server.
func RegisterService(server *grpc.Server, svc Service) {
	server.RegisterService(&serviceDesc, svc)
}

type structCall func(ctx context.Context, svc Service, in *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, call structCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(ctx, srv.(Service), req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

func handleStartSession(ctx context.Context, svc Service, _ *structpb.Struct) (*structpb.Struct, error) {
	id, err := svc.StartSession(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{fieldSessionID: string(id)})
}

func handleSubmitAudioChunk(ctx context.Context, svc Service, in *structpb.Struct) (*structpb.Struct, error) {
	data, err := base64.StdEncoding.DecodeString(stringField(in, fieldAudio))
	if err != nil {
		return nil, toStatus(fmt.Errorf("decode audio: %w", err))
	}
	if err := svc.SubmitAudioChunk(ctx, sessionField(in), uint64(numberField(in, fieldSeq)), data); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(nil)
}

func handleSubmitTranscriptSegment(ctx context.Context, svc Service, in *structpb.Struct) (*structpb.Struct, error) {
	if err := svc.SubmitTranscriptSegment(ctx, sessionField(in), stringField(in, fieldText)); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(nil)
}

func handleFinalizeSession(ctx context.Context, svc Service, in *structpb.Struct) (*structpb.Struct, error) {
	accepted, err := svc.FinalizeSession(ctx, sessionField(in))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{fieldAccepted: accepted})
}

func handleFetchTranscript(ctx context.Context, svc Service, in *structpb.Struct) (*structpb.Struct, error) {
	text, ok, err := svc.FetchTranscript(ctx, sessionField(in))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{fieldText: text, fieldFound: ok})
}

func handleGenerateSummary(ctx context.Context, svc Service, in *structpb.Struct) (*structpb.Struct, error) {
	summary, err := svc.GenerateSummary(ctx, stringField(in, fieldText))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{fieldSummary: summary})
}

func handleListRecordings(ctx context.Context, svc Service, _ *structpb.Struct) (*structpb.Struct, error) {
	recordings, err := svc.ListRecordings(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(recordings))
	for _, rec := range recordings {
		list = append(list, encodeRecording(rec))
	}
	return newStruct(map[string]any{fieldRecordings: list})
}

func encodeRecording(rec Recording) map[string]any {
	return map[string]any{
		fieldSessionID: string(rec.ID),
		fieldCreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldFinalized: rec.Finalized,
		fieldChunks:    float64(rec.AudioChunks),
		fieldBytes:     float64(rec.AudioBytes),
		fieldSegments:  float64(rec.Segments),
		fieldPreview:   rec.Preview,
	}
}

func decodeRecording(value *structpb.Value) Recording {
	fields := value.GetStructValue()
	rec := Recording{
		ID:          SessionID(stringField(fields, fieldSessionID)),
		Finalized:   boolField(fields, fieldFinalized),
		AudioChunks: int(numberField(fields, fieldChunks)),
		AudioBytes:  int64(numberField(fields, fieldBytes)),
		Segments:    int(numberField(fields, fieldSegments)),
		Preview:     stringField(fields, fieldPreview),
	}
	if created, err := time.Parse(time.RFC3339Nano, stringField(fields, fieldCreatedAt)); err == nil {
		rec.CreatedAt = created
	}
	return rec
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	if fields == nil {
		return &structpb.Struct{}, nil
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return msg, nil
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func numberField(msg *structpb.Struct, name string) float64 {
	return msg.GetFields()[name].GetNumberValue()
}

func boolField(msg *structpb.Struct, name string) bool {
	return msg.GetFields()[name].GetBoolValue()
}

func sessionField(msg *structpb.Struct) SessionID {
	return SessionID(stringField(msg, fieldSessionID))
}
