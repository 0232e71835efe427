package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modelsYAML = `
server:
  port: 8080
providers:
  openai:
    api_key: sk-test
    base_url: https://api.openai.com/v1
    models:
      - id: gpt-4
        input_price: "0.00003"
        output_price: "0.00006"
        max_tokens: 4000
        context_window: 8000
    aliases:
      gpt4: gpt-4
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "-o", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version json: %v\n%s", err, out)
	}
	if info["gitVersion"] == "" {
		t.Fatalf("missing gitVersion: %s", out)
	}

	if _, err := run(t, "version", "-o", "yaml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestModelsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(modelsYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := run(t, "models", "--config", path)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	for _, want := range []string{"MODEL", "gpt-4", "openai", "0.00003", "8000", "gpt4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("models output missing %q:\n%s", want, out)
		}
	}
}

func TestRequiresConfig(t *testing.T) {
	for _, sub := range []string{"serve", "models"} {
		if _, err := run(t, sub); err == nil || !strings.Contains(err.Error(), "--config") {
			t.Fatalf("%s without --config: %v", sub, err)
		}
	}
}
