package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
)

type fakeRecognizer struct {
	format string
	audio  string
	err    error
}

func (f *fakeRecognizer) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.format = req.Format
	data, _ := io.ReadAll(req.AudioData)
	f.audio = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: "transcript"}, nil
}

type fakeSynthesizer struct {
	err error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: []byte("mp3"), Format: "mp3"}, nil
}

func newFakeService(asr recognizer, tts synthesizer) *Service {
	svc := NewService(testSpeechConfig("", ""), zerolog.Nop())
	svc.asr = asr
	svc.tts = tts
	return svc
}

func TestServiceTranscribePassesWAVThrough(t *testing.T) {
	rec := &fakeRecognizer{}
	svc := newFakeService(rec, &fakeSynthesizer{})

	resp, err := svc.TranscribeAudio(context.Background(), &speechmodel.ASRRequest{
		SessionID: "s1",
		AudioData: strings.NewReader("raw"),
		Format:    "wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "transcript", resp.Text)
	assert.Equal(t, "wav", rec.format)
	assert.Equal(t, "raw", rec.audio)
}

func TestServiceTranscribeConvertsBrowserAudio(t *testing.T) {
	rec := &fakeRecognizer{}
	svc := newFakeService(rec, &fakeSynthesizer{})
	tc, scratch := newTestTranscoder(t, `printf 'RIFF' > "${10}"`)
	svc.transcoder = tc

	_, err := svc.TranscribeAudio(context.Background(), &speechmodel.ASRRequest{
		AudioData: strings.NewReader("opus"),
		Format:    "webm",
	})
	require.NoError(t, err)
	assert.Equal(t, "wav", rec.format)
	assert.Equal(t, "RIFF", rec.audio)
	assertDirEmpty(t, scratch)
}

func TestServiceTranscribeErrorsPropagate(t *testing.T) {
	for _, want := range []error{ErrUnintelligible, ErrUnreachable} {
		svc := newFakeService(&fakeRecognizer{err: want}, &fakeSynthesizer{})
		_, err := svc.TranscribeAudio(context.Background(), &speechmodel.ASRRequest{AudioData: strings.NewReader("x"), Format: "wav"})
		assert.True(t, errors.Is(err, want), "got %v want %v", err, want)
	}
}

func TestServiceNotConfigured(t *testing.T) {
	svc := NewService(&speechmodel.SpeechConfig{}, zerolog.Nop())
	assert.False(t, svc.Enabled())

	_, err := svc.TranscribeAudio(context.Background(), &speechmodel.ASRRequest{AudioData: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = svc.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestServiceSynthesize(t *testing.T) {
	svc := newFakeService(&fakeRecognizer{}, &fakeSynthesizer{})

	resp, err := svc.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{SessionID: "s1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), resp.AudioData)

	svc.tts = &fakeSynthesizer{err: ErrUnreachable}
	_, err = svc.SynthesizeSpeech(context.Background(), &speechmodel.TTSRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestServiceHealth(t *testing.T) {
	svc := newFakeService(&fakeRecognizer{}, &fakeSynthesizer{})
	health := svc.Health()
	assert.Equal(t, true, health["enabled"])
	assert.Equal(t, false, health["transcoder"])
}
