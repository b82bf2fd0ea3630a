package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":  zerolog.TraceLevel,
		"DEBUG":  zerolog.DebugLevel,
		" warn ": zerolog.WarnLevel,
		"error":  zerolog.ErrorLevel,
		"":       zerolog.InfoLevel,
		"loud":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	tests := []struct {
		env  map[string]string
		want bool
	}{
		{map[string]string{}, false},
		{map[string]string{"LYNX_LOG_FORMAT": "json"}, true},
		{map[string]string{"AWS_LAMBDA_FUNCTION_NAME": "enhance"}, true},
		{map[string]string{"AWS_LAMBDA_FUNCTION_NAME": "enhance", "LYNX_LOG_FORMAT": "console"}, false},
	}
	for _, tt := range tests {
		if got := JSONOutput(envMap(tt.env)); got != tt.want {
			t.Errorf("JSONOutput(%v) = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logger := New(envMap(map[string]string{"LYNX_LOG_FORMAT": "json", "LYNX_LOG_LEVEL": "warn"}), &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("kind", "RateLimited").Msg("retrying")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["kind"] != "RateLimited" || rec["message"] != "retrying" || rec["level"] != "warn" {
		t.Errorf("record = %v", rec)
	}
}

func TestStartupLogger_Event(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	s := NewStartupLogger("lynx").
		Version("1.2.3").
		DynamoTable("usage", "lynx-usage").
		Provider("gemini", true).
		Provider("fal", false).
		Feature("refine", true).
		Config("variantDelay", "2s")
	s.event(logger.Info()).Msg("Startup complete")

	var rec struct {
		Process   map[string]string            `json:"process"`
		Resources map[string]map[string]string `json:"resources"`
		Providers map[string]bool              `json:"providers"`
		Config    map[string]string            `json:"config"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Process["name"] != "lynx" || rec.Process["version"] != "1.2.3" {
		t.Errorf("process = %v", rec.Process)
	}
	if rec.Resources["dynamoTables"]["usage"] != "lynx-usage" {
		t.Errorf("resources = %v", rec.Resources)
	}
	if _, ok := rec.Resources["s3Buckets"]; ok {
		t.Error("empty s3Buckets should be omitted")
	}
	if !rec.Providers["gemini"] || rec.Providers["fal"] {
		t.Errorf("providers = %v", rec.Providers)
	}
	if rec.Config["variantDelay"] != "2s" {
		t.Errorf("config = %v", rec.Config)
	}
}
