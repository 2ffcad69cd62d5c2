package dispatch

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

// RoutingRules selects which channels receive an incident. Without a rule
// pack every configured channel receives every qualifying incident.
type RoutingRules struct {
	rules []RoutingRule
}

// RoutingRule routes matching incidents to a subset of channels.
type RoutingRule struct {
	ID       string       `yaml:"id"`
	Match    RoutingMatch `yaml:"match"`
	Channels []string     `yaml:"channels"`
}

// RoutingMatch defines optional attributes for rule matching. Empty fields
// match everything.
type RoutingMatch struct {
	Severity string `yaml:"severity"`
	SourceID string `yaml:"sourceID"`
}

// RoutingRulesFile is the YAML root structure.
type RoutingRulesFile struct {
	Rules []RoutingRule `yaml:"rules"`
}

// LoadRoutingRules loads a rule pack from path. An empty or missing path
// returns a nil rule set, which routes to all channels.
func LoadRoutingRules(path string) (*RoutingRules, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RoutingRulesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &RoutingRules{rules: cfg.Rules}, nil
}

// ChannelsFor returns the channel names the incident should route to, or
// nil to mean "all configured channels".
func (r *RoutingRules) ChannelsFor(incident models.Incident) []string {
	if r == nil || len(r.rules) == 0 {
		return nil
	}

	var matched []string
	for _, rule := range r.rules {
		if rule.Match.Severity != "" && !strings.EqualFold(rule.Match.Severity, string(incident.Severity)) {
			continue
		}
		if rule.Match.SourceID != "" && !incident.Touches(rule.Match.SourceID) {
			continue
		}
		for _, ch := range rule.Channels {
			matched = appendUnique(matched, ch)
		}
	}
	if len(matched) == 0 {
		// No rule claimed the incident; fall through to all channels
		// rather than dropping the alert.
		return nil
	}
	return matched
}
