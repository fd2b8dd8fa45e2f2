package scribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog/log"
)

// DeepgramEngine transcribes through Deepgram's prerecorded API using its
// hosted whisper models, so model sizes map one to one.
type DeepgramEngine struct {
	apiKey string
}

// NewDeepgramEngine creates an engine authenticated with apiKey.
func NewDeepgramEngine(apiKey string) *DeepgramEngine {
	return &DeepgramEngine{apiKey: apiKey}
}

func (e *DeepgramEngine) Name() string { return "deepgram" }

func (e *DeepgramEngine) SampleRate() int { return 0 }

func (e *DeepgramEngine) Check(ctx context.Context, size ModelSize) error {
	if e.apiKey == "" {
		return errors.New("deepgram API key is not set")
	}
	return nil
}

// DeepgramModelName returns Deepgram's hosted model for size.
func DeepgramModelName(size ModelSize) string {
	return "whisper-" + string(size)
}

func (e *DeepgramEngine) Load(ctx context.Context, size ModelSize) (Model, error) {
	if err := e.Check(ctx, size); err != nil {
		return nil, err
	}

	c := listenClient.NewREST(e.apiKey, &interfaces.ClientOptions{})
	return &deepgramModel{
		client: api.New(c),
		model:  DeepgramModelName(size),
	}, nil
}

// prerecordedClient is the part of the Deepgram REST client the engine uses.
type prerecordedClient interface {
	FromFile(ctx context.Context, file string, options *interfaces.PreRecordedTranscriptionOptions) (*msginterfaces.PreRecordedResponse, error)
}

type deepgramModel struct {
	client prerecordedClient
	model  string
}

func (m *deepgramModel) Close() error { return nil }

func (m *deepgramModel) Transcribe(ctx context.Context, path, language string) (Result, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:      m.model,
		Language:   language,
		Punctuate:  true,
		Utterances: true,
	}

	log.Debug().
		Str("model", m.model).
		Str("language", language).
		Str("file", path).
		Msg("Sending audio to Deepgram")

	res, err := m.client.FromFile(ctx, path, options)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request failed: %w", err)
	}
	return fromDeepgram(res)
}

// fromDeepgram maps a prerecorded response to a Result. Utterances become
// segments; without them the first channel's words give a single segment.
func fromDeepgram(res *msginterfaces.PreRecordedResponse) (Result, error) {
	if res == nil || res.Results == nil {
		return Result{}, errors.New("deepgram returned no results")
	}

	var result Result
	if len(res.Results.Channels) > 0 {
		channel := res.Results.Channels[0]
		result.Language = channel.DetectedLanguage
		if len(channel.Alternatives) > 0 {
			alt := channel.Alternatives[0]
			result.Text = alt.Transcript

			if len(res.Results.Utterances) == 0 && len(alt.Words) > 0 && strings.TrimSpace(alt.Transcript) != "" {
				result.Segments = append(result.Segments, Segment{
					Start: alt.Words[0].Start,
					End:   alt.Words[len(alt.Words)-1].End,
					Text:  alt.Transcript,
				})
			}
		}
	}

	for _, u := range res.Results.Utterances {
		result.Segments = append(result.Segments, Segment{
			Start: u.Start,
			End:   u.End,
			Text:  u.Transcript,
		})
	}

	return result, nil
}
