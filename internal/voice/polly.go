package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/reliability"
)

type pollyClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

type PollyConfig struct {
	Region string
	Engine string
}

// Polly synthesizes 16kHz PCM through Amazon Polly. DescribeVoices is the
// health probe.
type Polly struct {
	client pollyClient
	engine pollytypes.Engine
}

func NewPolly(ctx context.Context, cfg PollyConfig) (*Polly, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newPollyWithClient(polly.NewFromConfig(awsCfg), cfg.Engine), nil
}

func newPollyWithClient(client pollyClient, engine string) *Polly {
	e := pollytypes.EngineNeural
	if strings.EqualFold(strings.TrimSpace(engine), "standard") {
		e = pollytypes.EngineStandard
	}
	return &Polly{client: client, engine: e}
}

func (p *Polly) Name() string { return "polly" }

func (p *Polly) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	out, err := p.speak(ctx, req)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	audio, err := io.ReadAll(out)
	if err != nil {
		return nil, fmt.Errorf("read polly audio: %w", err)
	}
	return audio, nil
}

func (p *Polly) SynthesizeStream(ctx context.Context, req SynthesisRequest, emit func([]byte) error) error {
	out, err := p.speak(ctx, req)
	if err != nil {
		return err
	}
	defer out.Close()
	return readChunks(out, ttsStreamChunkBytes, emit)
}

func (p *Polly) Health(ctx context.Context) error {
	_, err := p.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{
		Engine:       p.engine,
		LanguageCode: pollytypes.LanguageCodeEnUs,
	})
	if err != nil {
		return normalizePollyError(err)
	}
	return nil
}

func (p *Polly) speak(ctx context.Context, req SynthesisRequest) (io.ReadCloser, error) {
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = "Joanna"
		if req.Language == "es" {
			voice = "Lupe"
		}
	}
	text := req.Text
	sampleRate := "16000"
	output, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       p.engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   &sampleRate,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		return nil, normalizePollyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, errEmptyAudio
	}
	return output.AudioStream, nil
}

// normalizePollyError maps SDK API errors onto StatusError so that failure
// reasons line up with the HTTP backends. Context errors pass through.
func normalizePollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("polly: %w", err)
	}
	code := 503
	switch {
	case apiErr.ErrorCode() == "ThrottlingException" || apiErr.ErrorCode() == "TooManyRequestsException":
		code = 429
	case apiErr.ErrorFault() == smithy.FaultClient:
		code = 400
	}
	return &reliability.StatusError{Backend: "polly", Code: code, Body: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()}
}
