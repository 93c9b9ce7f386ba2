package telegram

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		want        command
		wantMatched bool
		wantErr     bool
	}{
		{name: "plain prompt", text: "hello there", wantMatched: false},
		{name: "blank", text: "   ", wantMatched: false},
		{name: "system prefix", text: "~history", want: command{Name: "history"}, wantMatched: true},
		{name: "ordinary prefix", text: "/agents", want: command{Name: "agents"}, wantMatched: true},
		{
			name:        "mention and args",
			text:        "/Edit@scribe_bot 2  keep  spacing ",
			want:        command{Name: "edit", Mention: "scribe_bot", Args: "2  keep  spacing"},
			wantMatched: true,
		},
		{
			name:        "multiline args",
			text:        "~append user line one\nline two",
			want:        command{Name: "append", Args: "user line one\nline two"},
			wantMatched: true,
		},
		{name: "missing name", text: "~", wantMatched: true, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, matched, err := parseCommand(testCase.text)
			if matched != testCase.wantMatched {
				t.Fatalf("matched = %v, want %v", matched, testCase.wantMatched)
			}
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse command failed: %v", err)
			}
			if matched && got != testCase.want {
				t.Fatalf("command = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestIndexArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      string
		wantIndex int
		wantText  string
		wantErr   string
	}{
		{name: "index and text", args: "3 new text", wantIndex: 3, wantText: "new text"},
		{name: "index only", args: "0", wantIndex: 0},
		{name: "missing", args: "", wantErr: "missing message index"},
		{name: "not a number", args: "one text", wantErr: "invalid message index"},
		{name: "negative", args: "-1 text", wantErr: ">= 0"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			index, text, err := indexArgs(testCase.args)
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("index args failed: %v", err)
			}
			if index != testCase.wantIndex || text != testCase.wantText {
				t.Fatalf("index args = (%d, %q), want (%d, %q)", index, text, testCase.wantIndex, testCase.wantText)
			}
		})
	}
}

func TestTrimReply(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := trimReply(short); got != short {
		t.Fatalf("trimReply(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("a", maxMessageUnits+10)
	trimmed := trimReply(long)
	if !strings.HasSuffix(trimmed, truncationMarker) {
		t.Fatalf("trimmed reply missing marker")
	}
	if got := utf16Length(trimmed); got != maxMessageUnits {
		t.Fatalf("trimmed length = %d, want %d", got, maxMessageUnits)
	}

	// Astral runes count twice and must never be split.
	astral := strings.Repeat("😀", maxMessageUnits)
	trimmed = trimReply(astral)
	if got := utf16Length(trimmed); got > maxMessageUnits {
		t.Fatalf("trimmed astral length = %d, want <= %d", got, maxMessageUnits)
	}
	if !strings.HasPrefix(astral, strings.TrimSuffix(trimmed, truncationMarker)) {
		t.Fatal("trimmed astral reply is not a prefix of the input")
	}
}
