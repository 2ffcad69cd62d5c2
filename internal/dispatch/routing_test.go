package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

func TestLoadRoutingRulesEmptyPath(t *testing.T) {
	rules, err := LoadRoutingRules("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules for empty path")
	}
}

func TestLoadRoutingRulesMissingFile(t *testing.T) {
	rules, err := LoadRoutingRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules for missing file")
	}
}

func TestLoadRoutingRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - id: critical-to-chat
    match:
      severity: critical
    channels: [chat]
  - id: checkout-to-generic
    match:
      sourceID: checkout
    channels: [generic]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRoutingRules(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if rules == nil || len(rules.rules) != 2 {
		t.Fatalf("expected 2 rules loaded")
	}

	critical := models.Incident{Severity: models.SeverityCritical, SourceIDs: []string{"payments"}}
	if got := rules.ChannelsFor(critical); len(got) != 1 || got[0] != "chat" {
		t.Fatalf("expected critical incident routed to chat, got %v", got)
	}

	checkout := models.Incident{Severity: models.SeverityMedium, SourceIDs: []string{"checkout"}}
	if got := rules.ChannelsFor(checkout); len(got) != 1 || got[0] != "generic" {
		t.Fatalf("expected checkout incident routed to generic, got %v", got)
	}

	// Matching both rules yields the union.
	both := models.Incident{Severity: models.SeverityCritical, SourceIDs: []string{"checkout"}}
	if got := rules.ChannelsFor(both); len(got) != 2 {
		t.Fatalf("expected union of channels, got %v", got)
	}

	// No rule claims it, so it falls through to all channels.
	unmatched := models.Incident{Severity: models.SeverityLow, SourceIDs: []string{"inventory"}}
	if got := rules.ChannelsFor(unmatched); got != nil {
		t.Fatalf("expected nil (all channels) for unmatched incident, got %v", got)
	}
}
