package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

type fakeChatModel struct {
	reply  *schema.Message
	err    error
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func TestEinoClientGenerate(t *testing.T) {
	fake := &fakeChatModel{reply: &schema.Message{Role: schema.Assistant, Content: "The tide came in."}}
	c := NewEinoClient(Settings{APIKey: "sk-test"}, WithChatModel(fake), WithRateLimit(0, 0))

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	got, err := c.Generate(context.Background(), "Continue")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "The tide came in." {
		t.Errorf("Generate() = %q", got)
	}
	if len(fake.inputs) != 1 || len(fake.inputs[0]) != 1 {
		t.Fatalf("chat model received %v", fake.inputs)
	}
	if msg := fake.inputs[0][0]; msg.Role != schema.User || msg.Content != "Continue" {
		t.Errorf("sent message = %+v", msg)
	}
}

func TestEinoClientInitializeRejectsPlaceholderKey(t *testing.T) {
	c := NewEinoClient(Settings{APIKey: "YOUR-API-KEY"}, WithChatModel(&fakeChatModel{}))
	if err := c.Initialize(context.Background()); !ngerrors.IsAuthentication(err) {
		t.Errorf("Initialize() = %v, want AuthenticationError", err)
	}
}

func TestEinoClientGenerateBeforeInitialize(t *testing.T) {
	c := NewEinoClient(Settings{APIKey: "sk-test"})
	if _, err := c.Generate(context.Background(), "x"); !ngerrors.IsFatal(err) {
		t.Errorf("Generate() = %v, want fatal error", err)
	}
}

func TestEinoClientErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		reply         *schema.Message
		err           error
		wantTransient bool
		wantAuth      bool
	}{
		{name: "rate limit", err: errors.New("error, status code: 429, message: Rate limit reached"), wantTransient: true},
		{name: "unauthorized", err: errors.New("error, status code: 401, message: Incorrect API key provided"), wantAuth: true},
		{name: "timeout", err: errors.New("Post \"https://api.openai.com\": net/http: request canceled (Client.Timeout exceeded)"), wantTransient: true},
		{name: "bad request", err: errors.New("error, status code: 400, message: invalid_request_error")},
		{name: "forbidden", err: errors.New("POST /v1/chat/completions: status 403 Forbidden"), wantAuth: true},
		{name: "server error", err: errors.New("error, status code: 503, message: overloaded"), wantTransient: true},
		{name: "not found", err: errors.New("error, status code: 404, message: model not found")},
		{name: "digits in a token limit", err: errors.New("stream closed after 4000 tokens"), wantTransient: true},
		{name: "digits in a request id", err: errors.New("upstream reset, request id req_401f403a"), wantTransient: true},
		{name: "unknown", err: errors.New("connection reset by peer"), wantTransient: true},
		{name: "empty reply", reply: &schema.Message{Role: schema.Assistant}, wantTransient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeChatModel{reply: tt.reply, err: tt.err}
			c := NewEinoClient(Settings{APIKey: "sk-test"}, WithChatModel(fake), WithRateLimit(0, 0))
			if err := c.Initialize(context.Background()); err != nil {
				t.Fatal(err)
			}

			_, err := c.Generate(context.Background(), "prompt")
			if err == nil {
				t.Fatal("Generate() error = nil")
			}
			if got := ngerrors.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v (err: %v)", got, tt.wantTransient, err)
			}
			if got := ngerrors.IsAuthentication(err); got != tt.wantAuth {
				t.Errorf("IsAuthentication() = %v, want %v", got, tt.wantAuth)
			}
		})
	}
}
