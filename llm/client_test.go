package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3/option"
)

func chatReply(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 0,
		"model":   "gpt-4o",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]interface{}{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test-key", 0, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
}

func TestComplete(t *testing.T) {
	var gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatReply("  SEGMENT: sunrise\n"))
	})

	got, err := c.Complete(context.Background(), "gpt-4o-mini", 0.7, "write a script")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "SEGMENT: sunrise" {
		t.Errorf("got %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if !strings.HasSuffix(gotPath, "/chat/completions") {
		t.Errorf("path = %q", gotPath)
	}
}

type verdictReply struct {
	Score int    `json:"score"`
	Note  string `json:"note"`
}

func TestStructuredDecodesFencedJSON(t *testing.T) {
	var sawSchema bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		_, sawSchema = req["response_format"]
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatReply("```json\n{\"score\": 7, \"note\": \"ok\"}\n```"))
	})

	var out verdictReply
	err := c.Structured(context.Background(), "gpt-4o", "verdict", GenerateSchema[verdictReply](),
		[]Part{Text("rate this")}, &out)
	if err != nil {
		t.Fatalf("Structured: %v", err)
	}
	if out.Score != 7 || out.Note != "ok" {
		t.Errorf("out = %+v", out)
	}
	if !sawSchema {
		t.Error("request carried no response_format")
	}
}

func TestStructuredRejectsGarbage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatReply("not json"))
	})
	var out verdictReply
	if err := c.Structured(context.Background(), "gpt-4o", "verdict", GenerateSchema[verdictReply](), []Part{Text("x")}, &out); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestModerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/moderations") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"modr-1","model":"omni-moderation-latest","results":[{
			"flagged": true,
			"categories": {"violence": true, "self-harm/intent": false},
			"category_scores": {"violence": 0.91, "self-harm/intent": 0.01}
		}]}`)
	})

	m, err := c.Moderate(context.Background(), "omni-moderation-latest", "some text")
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if !m.Flagged || !m.Categories["violence"] {
		t.Errorf("moderation = %+v", m)
	}
	if m.CategoryScores["self-harm/intent"] != 0.01 {
		t.Errorf("scores = %v", m.CategoryScores)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusServiceUnavailable)
	})
	if _, err := c.Complete(context.Background(), "gpt-4o-mini", 0.7, "x"); err == nil {
		t.Fatal("expected error from 503")
	}
}

func TestImagePart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0644); err != nil {
		t.Fatal(err)
	}
	part, err := Image(path, "low")
	if err != nil {
		t.Fatal(err)
	}
	if part.OfImageURL == nil || !strings.HasPrefix(part.OfImageURL.ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("unexpected part: %+v", part)
	}
	if _, err := Image(filepath.Join(t.TempDir(), "missing.png"), "low"); err == nil {
		t.Error("expected error for missing frame")
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct{ in, want string }{
		{"```json\n{}\n```", "{}"},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"  {}  ", "{}"},
	}
	for _, tt := range tests {
		if got := CleanJSON(tt.in); got != tt.want {
			t.Errorf("CleanJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
