package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/driftwoodlabs/retain/internal/memory"
)

type cmdMockStore struct {
	recallFn func(query string, opts memory.RecallOptions) ([]memory.Record, error)
}

func (m *cmdMockStore) Initialize(ctx context.Context) error { return nil }
func (m *cmdMockStore) Shutdown(ctx context.Context) error   { return nil }
func (m *cmdMockStore) Store(ctx context.Context, content string, meta memory.Metadata) (string, error) {
	return "id", nil
}
func (m *cmdMockStore) Recall(ctx context.Context, query string, opts memory.RecallOptions) ([]memory.Record, error) {
	if m.recallFn != nil {
		return m.recallFn(query, opts)
	}
	return nil, nil
}
func (m *cmdMockStore) List(ctx context.Context, limit int, tier memory.Tier) ([]memory.Record, error) {
	return nil, nil
}
func (m *cmdMockStore) Update(ctx context.Context, id, content string, meta memory.Metadata) error {
	return nil
}
func (m *cmdMockStore) Forget(ctx context.Context, id string) error { return nil }
func (m *cmdMockStore) Related(ctx context.Context, id string, depth int) ([]memory.Record, error) {
	return nil, nil
}
func (m *cmdMockStore) Cleanup(ctx context.Context) (memory.CleanupStats, error) {
	return memory.CleanupStats{}, nil
}
func (m *cmdMockStore) HealthCheck(ctx context.Context) (memory.Health, error) {
	return memory.Health{Healthy: true, Backend: "mock"}, nil
}

func setTestHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("RETAIN_MODEL_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return tmpDir
}

func TestReadSegmentsFromFlag(t *testing.T) {
	messageFlag = "remember this"
	defer func() { messageFlag = "" }()

	segs, err := readSegments(strings.NewReader("ignored"))
	if err != nil {
		t.Fatalf("readSegments error: %v", err)
	}
	if len(segs) != 1 || segs[0].Content != "remember this" {
		t.Fatalf("unexpected segments: %+v", segs)
	}
	if segs[0].Role != "user" {
		t.Errorf("role = %q, want user", segs[0].Role)
	}
}

func TestReadSegmentsFromStdin(t *testing.T) {
	messageFlag = ""

	segs, err := readSegments(strings.NewReader("first line\n\n  second line  \n"))
	if err != nil {
		t.Fatalf("readSegments error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].Content != "first line" || segs[1].Content != "second line" {
		t.Fatalf("unexpected segments: %+v", segs)
	}
}

func TestRunScoreWithOptions(t *testing.T) {
	setTestHome(t)
	messageFlag = "remember that my favorite editor is vim"
	defer func() { messageFlag = "" }()

	var out bytes.Buffer
	err := runScoreWithOptions(ScoreOptions{
		Store:  &cmdMockStore{},
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("runScoreWithOptions error: %v", err)
	}

	var res memory.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, out.String())
	}
	if res.RecommendedAction != memory.ActionStoreExplicit {
		t.Errorf("recommendedAction = %s, want store_explicit", res.RecommendedAction)
	}
}

func TestRunScoreWithOptions_EmptyInput(t *testing.T) {
	setTestHome(t)
	messageFlag = ""

	err := runScoreWithOptions(ScoreOptions{
		Store: &cmdMockStore{},
		Stdin: strings.NewReader(""),
	})
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setTestHome(t)

	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runOnboard(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runOnboard error: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, ".retain", "config.json")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if !strings.Contains(output, "Created config") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	tmpDir := setTestHome(t)

	cfgDir := filepath.Join(tmpDir, ".retain")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{}"), 0644)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runOnboard(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)

	if err != nil {
		t.Errorf("runOnboard error: %v", err)
	}
	if !strings.Contains(buf.String(), "Config already exists") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestRunStatus(t *testing.T) {
	setTestHome(t)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runStatus(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runStatus error: %v", err)
	}
	if !strings.Contains(output, "Scoring: enabled=true") {
		t.Errorf("missing scoring line: %s", output)
	}
	if !strings.Contains(output, "API Key: not set") {
		t.Errorf("missing api key line: %s", output)
	}
	if !strings.Contains(output, "no database yet") {
		t.Errorf("missing database line: %s", output)
	}
}

func TestRunCleanup(t *testing.T) {
	setTestHome(t)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runCleanup(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Fatalf("runCleanup error: %v", err)
	}
	if !strings.Contains(output, "Cleanup: deleted=0 upgraded=0") {
		t.Errorf("unexpected cleanup output: %s", output)
	}
	if !strings.Contains(output, "Reinforcement: upgraded=0") {
		t.Errorf("unexpected reinforcement output: %s", output)
	}
}

func TestInit(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "score", "status", "onboard", "cleanup"} {
		if !names[want] {
			t.Errorf("command %s not registered", want)
		}
	}
}
