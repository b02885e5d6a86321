package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	if err := c.ApplyDefaults(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if c.Addr != DefaultAddr || c.Runtime != DefaultRuntime || c.MaxToolDepth != DefaultMaxToolDepth {
		t.Fatalf("unexpected: %+v", c)
	}
	if c.MaxQueueDepth != DefaultMaxQueueDepth || c.MaxWaitMS != DefaultMaxWaitMS || c.DrainTimeoutMS != DefaultDrainTimeoutMS {
		t.Fatalf("unexpected session defaults: %+v", c)
	}
	if c.MaxBodyBytes != DefaultMaxBodyBytes || c.LogLevel != "info" || c.LlamaHost != DefaultLlamaHost {
		t.Fatalf("unexpected: %+v", c)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if c.ModelsDir != filepath.Join(home, "models/llm") {
			t.Fatalf("models dir not expanded: %s", c.ModelsDir)
		}
	}
}

func TestApplyDefaultsKeepsValues(t *testing.T) {
	half := float32(0.5)
	c := Config{Addr: ":1", Runtime: " OpenAI ", ModelsDir: "/m", MaxToolDepth: 2, Temperature: &half}
	if err := c.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":1" || c.Runtime != RuntimeOpenAI || c.ModelsDir != "/m" || c.MaxToolDepth != 2 || c.Temperature != &half {
		t.Fatalf("overwritten: %+v", c)
	}
}

func TestApplyDefaultsRejects(t *testing.T) {
	cases := []Config{
		{Runtime: "tensorrt"},
		{LlamaPortStart: 9010, LlamaPortEnd: 9000},
	}
	for _, c := range cases {
		if err := c.ApplyDefaults(); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}
