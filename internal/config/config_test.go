package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.VisibilityWindow() != 10*time.Minute {
		t.Fatalf("visibility window = %v", cfg.VisibilityWindow())
	}
	if cfg.Coins.StoryCost != 10 || cfg.Coins.EpisodeCost != 5 {
		t.Fatalf("unexpected coin costs: %+v", cfg.Coins)
	}
	if !cfg.KnownLanguage("de") || cfg.KnownLanguage("xx") {
		t.Fatal("language list not applied")
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "zero visibility window",
			yaml: "requests:\n  visibility_window_minutes: 0\n",
			want: "visibility_window_minutes",
		},
		{
			name: "negative story cost",
			yaml: "requests:\n  visibility_window_minutes: 10\ncoins:\n  story_cost: -1\n",
			want: "coins costs",
		},
		{
			name: "empty language entry",
			yaml: "requests:\n  visibility_window_minutes: 10\nlanguages:\n  - de\n  - \"\"\n",
			want: "languages",
		},
		{
			name: "not yaml",
			yaml: "{{{",
			want: "invalid config yaml",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestGeneratorTimeoutDefault(t *testing.T) {
	var cfg Config
	if cfg.GeneratorTimeout() != 15*time.Second {
		t.Fatalf("timeout = %v", cfg.GeneratorTimeout())
	}
	cfg.Generator.TimeoutSeconds = 3
	if cfg.GeneratorTimeout() != 3*time.Second {
		t.Fatalf("timeout = %v", cfg.GeneratorTimeout())
	}
}

func TestKnownLanguageEmptyListAcceptsAll(t *testing.T) {
	var cfg Config
	if !cfg.KnownLanguage("anything") {
		t.Fatal("empty list should accept any language")
	}
}
