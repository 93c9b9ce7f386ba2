package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ex-scribe/internal/client"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type fakeScribe struct {
	mu     sync.Mutex
	bodies []map[string]string
	paths  []string
}

func (f *fakeScribe) record(r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
}

func newFakeScribe(t *testing.T) (*fakeScribe, string) {
	t.Helper()

	fake := &fakeScribe{}
	writeJSON := func(w http.ResponseWriter, status int, payload any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
	ok := func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeJSON(w, http.StatusOK, map[string]string{"status": "Cache Updated!"})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []string{"a1", "a2"}})
	})
	mux.HandleFunc("GET /agents/{agent}/history", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("agent") != "a1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no matching message"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"agent": "a1",
			"messages": []map[string]string{
				{"role": "user", "content": "hi"},
				{"role": "assistant", "content": "hello"},
			},
		})
	})
	mux.HandleFunc("POST /agents/{agent}/messages", ok)
	mux.HandleFunc("PATCH /agents/{agent}/messages/{index}", ok)
	mux.HandleFunc("DELETE /agents/{agent}/messages/{index}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("index") != "0" {
			fake.record(r)
			writeJSON(w, http.StatusOK, map[string]string{"status": "Cache Updated!", "warning": "no matching message"})
			return
		}
		ok(w, r)
	})
	mux.HandleFunc("GET /agents/{agent}/prompt", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		var frame map[string]string
		if err := wsjson.Read(r.Context(), conn, &frame); err != nil {
			return
		}
		_ = wsjson.Write(r.Context(), conn, client.Frame{Type: client.FrameToken, Delta: "fi"})
		_ = wsjson.Write(r.Context(), conn, client.Frame{Type: client.FrameToken, Delta: "ne"})
		_ = wsjson.Write(r.Context(), conn, client.Frame{Type: client.FrameFinished, Content: "fine"})
		_, _, _ = conn.Read(r.Context())
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return fake, server.URL
}

func runCommand(t *testing.T, server string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	profile := filepath.Join(t.TempDir(), "profile.yaml")
	root.SetArgs(append([]string{"--profile", profile, "--server", server}, args...))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCommands(t *testing.T) {
	t.Parallel()

	_, server := newFakeScribe(t)

	tests := []struct {
		name       string
		args       []string
		wantOut    string
		wantErr    string
		wantStderr string
	}{
		{
			name:    "agents marks selection",
			args:    []string{"--agent", "a1", "agents"},
			wantOut: "* a1\n  a2\n",
		},
		{
			name:    "history",
			args:    []string{"-a", "a1", "history"},
			wantOut: "[0] user: hi\n[1] assistant: hello\n",
		},
		{
			name:       "history unknown agent",
			args:       []string{"-a", "missing", "history"},
			wantErr:    "cannot read history",
			wantStderr: "no matching message",
		},
		{
			name:    "append",
			args:    []string{"-a", "a1", "append", "assistant", "hello", "there"},
			wantOut: "✓ Cache Updated!\n",
		},
		{
			name:       "append bad role",
			args:       []string{"-a", "a1", "append", "robot", "beep"},
			wantErr:    "invalid role",
			wantStderr: "unsupported role",
		},
		{
			name:    "edit",
			args:    []string{"-a", "a1", "edit", "1", "edited"},
			wantOut: "✓ Cache Updated!\n",
		},
		{
			name:    "edit bad index",
			args:    []string{"-a", "a1", "edit", "first", "x"},
			wantErr: "invalid index",
		},
		{
			name:    "delete",
			args:    []string{"-a", "a1", "delete", "0"},
			wantOut: "✓ Cache Updated!\n",
		},
		{
			name:    "delete out of range is still queued",
			args:    []string{"-a", "a1", "delete", "7"},
			wantOut: "✓ Cache Updated!\n! no matching message in cache; the edit is still queued\n",
		},
		{
			name:    "prompt streams",
			args:    []string{"-a", "a1", "prompt", "how", "are", "you"},
			wantOut: "fine\n",
		},
		{
			name:       "missing agent",
			args:       []string{"history"},
			wantErr:    "no agent selected",
			wantStderr: "pass --agent",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			stdout, stderr, err := runCommand(t, server, testCase.args...)
			if testCase.wantErr != "" {
				require.EqualError(t, err, testCase.wantErr)
				assert.Contains(t, stderr, testCase.wantStderr)
				return
			}
			require.NoError(t, err, stderr)
			assert.Equal(t, testCase.wantOut, stdout)
		})
	}
}

func TestEditSendsBody(t *testing.T) {
	t.Parallel()

	fake, server := newFakeScribe(t)

	_, _, err := runCommand(t, server, "-a", "a1", "edit", "1", "new", "words")
	require.NoError(t, err)
	_, _, err = runCommand(t, server, "-a", "a1", "append", "USER", "again")
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"PATCH /agents/a1/messages/1", "POST /agents/a1/messages"}, fake.paths)
	assert.Equal(t, []map[string]string{
		{"content": "new words"},
		{"role": "user", "content": "again"},
	}, fake.bodies)
}

func TestProfileSave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scribe", "profile.yaml")

	var stdout bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stdout)
	root.SetArgs([]string{"--profile", path, "--server", "http://localhost:9999", "-a", "a2", "profile", "--save"})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), "server:  http://localhost:9999")

	profile, err := client.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", profile.Server)
	assert.Equal(t, "a2", profile.Agent)
}

func TestRootShowsHelp(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--profile", filepath.Join(t.TempDir(), "p.yaml")})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Usage:")
	assert.Contains(t, out.String(), "scribectl")
}

func TestRootRejectsBadServer(t *testing.T) {
	t.Parallel()

	_, stderr, err := runCommand(t, "ftp://nowhere", "agents")
	require.EqualError(t, err, "invalid connection settings")
	assert.Contains(t, stderr, "scheme")
}
