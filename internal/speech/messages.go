package speech

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/murmur/internal/recognition"
)

const (
	fieldLanguage        = "language"
	fieldContinuous      = "continuous"
	fieldInterimResults  = "interim_results"
	fieldMaxAlternatives = "max_alternatives"
	fieldSampleRate      = "sample_rate"

	fieldResultIndex  = "result_index"
	fieldResults      = "results"
	fieldIsFinal      = "is_final"
	fieldAlternatives = "alternatives"
	fieldTranscript   = "transcript"
	fieldConfidence   = "confidence"

	fieldError   = "error"
	fieldKind    = "kind"
	fieldMessage = "message"
)

func encodeConfig(cfg recognition.Config) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		fieldLanguage:        cfg.Language,
		fieldContinuous:      cfg.Continuous,
		fieldInterimResults:  cfg.InterimResults,
		fieldMaxAlternatives: float64(cfg.MaxAlternatives),
		fieldSampleRate:      float64(cfg.SampleRate),
	})
	if err != nil {
		return nil, fmt.Errorf("encode recognition config: %w", err)
	}
	return msg, nil
}

// decodeEvent converts one server message. Messages carrying neither an
// error nor results are reported as not ok.
func decodeEvent(msg *structpb.Struct) (recognition.Event, bool) {
	f := msg.GetFields()

	if errValue := f[fieldError].GetStructValue(); errValue != nil {
		ef := errValue.GetFields()
		return recognition.ErrorEvent{
			Kind:    recognition.ErrorKind(ef[fieldKind].GetStringValue()),
			Message: ef[fieldMessage].GetStringValue(),
		}, true
	}

	values := f[fieldResults].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, false
	}

	base := int(f[fieldResultIndex].GetNumberValue())
	results := make([]recognition.Result, 0, len(values))
	for i, value := range values {
		rf := value.GetStructValue().GetFields()
		result := recognition.Result{
			Index:   base + i,
			IsFinal: rf[fieldIsFinal].GetBoolValue(),
		}
		for _, alt := range rf[fieldAlternatives].GetListValue().GetValues() {
			af := alt.GetStructValue().GetFields()
			result.Alternatives = append(result.Alternatives, recognition.Alternative{
				Text:       af[fieldTranscript].GetStringValue(),
				Confidence: af[fieldConfidence].GetNumberValue(),
			})
		}
		results = append(results, result)
	}
	return recognition.ResultsEvent{ResultIndex: base, Results: results}, true
}
