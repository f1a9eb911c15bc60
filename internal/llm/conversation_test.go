package llm

import (
	"context"
	"errors"
	"testing"
)

func TestConversation_CapsHistory(t *testing.T) {
	conv := NewConversation("be brief", 4)
	for i := 0; i < 3; i++ {
		conv.AddUser("question")
		conv.AddAssistant("answer")
	}

	if conv.Len() != 4 {
		t.Fatalf("Expected 4 messages, got %d", conv.Len())
	}
	msgs := conv.Messages()
	if msgs[0].Role != RoleUser {
		t.Errorf("Expected oldest kept message to be from user, got %s", msgs[0].Role)
	}
	if conv.SystemPrompt != "be brief" {
		t.Errorf("Expected system prompt to be kept, got %q", conv.SystemPrompt)
	}
}

func TestConversation_MessagesIsCopy(t *testing.T) {
	conv := NewConversation("", 0)
	conv.AddUser("hi")

	msgs := conv.Messages()
	msgs[0].Content = "changed"

	if conv.Messages()[0].Content != "hi" {
		t.Error("Expected Messages to return a copy")
	}
}

func TestConversation_LastUserMessageAndTruncate(t *testing.T) {
	conv := NewConversation("", 10)
	conv.AddUser("first")
	conv.AddAssistant("reply")
	conv.AddUser("second")

	if got := conv.LastUserMessage(); got != "second" {
		t.Errorf("Expected last user message %q, got %q", "second", got)
	}

	conv.Truncate(2)
	if conv.Len() != 2 {
		t.Errorf("Expected 2 messages after truncate, got %d", conv.Len())
	}
	if got := conv.LastUserMessage(); got != "first" {
		t.Errorf("Expected last user message %q, got %q", "first", got)
	}
}

func TestCollect(t *testing.T) {
	ch := make(chan Chunk, 3)
	ch <- Chunk{Text: "Hello "}
	ch <- Chunk{Text: "world"}
	close(ch)

	text, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if text != "Hello world" {
		t.Errorf("Expected %q, got %q", "Hello world", text)
	}

	failing := make(chan Chunk, 2)
	boom := errors.New("boom")
	failing <- Chunk{Text: "partial"}
	failing <- Chunk{Err: boom}
	close(failing)

	text, err = Collect(context.Background(), failing)
	if !errors.Is(err, boom) {
		t.Errorf("Expected terminating chunk error, got %v", err)
	}
	if text != "partial" {
		t.Errorf("Expected partial text, got %q", text)
	}
}

func TestGeminiContents_MapsRoles(t *testing.T) {
	conv := NewConversation("sys", 10)
	conv.AddUser("hi")
	conv.AddAssistant("hello")

	contents := geminiContents(conv)
	if len(contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" {
		t.Errorf("Expected user role, got %s", contents[0].Role)
	}
	if contents[1].Role != "model" {
		t.Errorf("Expected model role, got %s", contents[1].Role)
	}
}
