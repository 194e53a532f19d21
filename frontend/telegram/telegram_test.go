package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("hello")
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessageAtNewline(t *testing.T) {
	line := strings.Repeat("a", 3000)
	text := line + "\n" + line

	chunks := splitMessage(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != line+"\n" {
		t.Errorf("chunk 0 did not break at newline (len %d)", len(chunks[0]))
	}
	for i, c := range chunks {
		if len(c) > maxMessageLength {
			t.Errorf("chunk %d exceeds limit: %d", i, len(c))
		}
	}
}

func TestSplitMessageNoNewline(t *testing.T) {
	text := strings.Repeat("a", maxMessageLength+100)
	chunks := splitMessage(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != maxMessageLength {
		t.Errorf("chunk 0 len = %d", len(chunks[0]))
	}
	if chunks[0]+chunks[1] != text {
		t.Error("chunks do not reassemble to input")
	}
}

func TestSplitMessageKeepsRuneBoundary(t *testing.T) {
	// 3-byte runes; 4096 is not a multiple of 3, so a byte-indexed split
	// would land mid-rune.
	text := strings.Repeat("日", 2000)
	chunks := splitMessage(text)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		if len(c) > maxMessageLength {
			t.Errorf("chunk %d exceeds limit: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble to input")
	}
}

func TestAPIErrorMatchesWrapped(t *testing.T) {
	base := &apiError{Code: 400, Description: "can't parse entities"}
	wrapped := fmt.Errorf("send: %w", base)
	var ae *apiError
	if !errors.As(wrapped, &ae) || ae.Code != 400 {
		t.Fatalf("wrapped apiError not matched: %v", wrapped)
	}
}

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**done**", "<b>done</b>"},
		{"italic", "*note*", "<i>note</i>"},
		{"code span", "run `go test`", "run <code>go test</code>"},
		{"heading", "# Status", "<b>Status</b>"},
		{"escape", "a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"link", "[repo](https://example.com)", `<a href="https://example.com">repo</a>`},
		{"bullets", "- one\n- two", "• one\n• two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := markdownToHTML(tt.in)
			if got != tt.want {
				t.Errorf("markdownToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMarkdownToHTMLFencedCode(t *testing.T) {
	got := markdownToHTML("```\nfmt.Println(1 < 2)\n```")
	if !strings.Contains(got, "<pre>fmt.Println(1 &lt; 2)") {
		t.Errorf("fenced code = %q", got)
	}
}

func TestMarkdownToHTMLOrderedList(t *testing.T) {
	got := markdownToHTML("1. first\n2. second")
	if !strings.Contains(got, "1. first") || !strings.Contains(got, "2. second") {
		t.Errorf("ordered list = %q", got)
	}
}
