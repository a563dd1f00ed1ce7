package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestScriptedClient(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedClient(
		MockResponse{Text: "one"},
		MockResponse{Err: boom},
		MockResponse{Text: "last"},
	)
	ctx := context.Background()

	want := []struct {
		text string
		err  error
	}{{"one", nil}, {"", boom}, {"last", nil}, {"last", nil}}

	for i, w := range want {
		got, err := m.Generate(ctx, "p")
		if got != w.text || !errors.Is(err, w.err) {
			t.Errorf("call %d = (%q, %v), want (%q, %v)", i+1, got, err, w.text, w.err)
		}
	}
	if m.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", m.Calls())
	}
}

func TestMockClientDefaultAndInit(t *testing.T) {
	m := NewMockClient(nil)
	initErr := errors.New("denied")
	m.FailInitialize(initErr)

	if err := m.Initialize(context.Background()); !errors.Is(err, initErr) {
		t.Errorf("Initialize() = %v", err)
	}
	if m.InitCalls() != 1 {
		t.Errorf("InitCalls() = %d", m.InitCalls())
	}

	got, err := m.Generate(context.Background(), "first prompt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "<content>Section 1.") {
		t.Errorf("default response = %q", got)
	}
	if p := m.Prompts(); len(p) != 1 || p[0] != "first prompt" {
		t.Errorf("Prompts() = %v", p)
	}
}

func TestMockClientCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMockClient(nil)
	if _, err := m.Generate(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() = %v, want context.Canceled", err)
	}
	if m.Calls() != 0 {
		t.Errorf("cancelled call was recorded")
	}
}
