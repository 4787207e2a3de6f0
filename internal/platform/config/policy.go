package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultMaxRate = 120.0

type Policy struct {
	DefaultMaxRate  float64        `yaml:"defaultMaxRate"`
	GradePriorities map[string]int `yaml:"gradePriorities"`
	ResubmitComment string         `yaml:"resubmitComment"`
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultMaxRate: DefaultMaxRate,
		GradePriorities: map[string]int{
			"1A": 6,
			"1B": 5,
			"2A": 4,
			"2B": 3,
			"3A": 2,
			"3B": 1,
		},
		ResubmitComment: "Resubmitted after revision",
	}
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
// Keys missing from the file keep their default values.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read review policy: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (Policy, error) {
	policy := DefaultPolicy()
	var parsed Policy
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Policy{}, fmt.Errorf("parse review policy: %w", err)
	}
	if parsed.DefaultMaxRate != 0 {
		policy.DefaultMaxRate = parsed.DefaultMaxRate
	}
	if len(parsed.GradePriorities) > 0 {
		policy.GradePriorities = make(map[string]int, len(parsed.GradePriorities))
		for grade, priority := range parsed.GradePriorities {
			policy.GradePriorities[strings.ToUpper(strings.TrimSpace(grade))] = priority
		}
	}
	if strings.TrimSpace(parsed.ResubmitComment) != "" {
		policy.ResubmitComment = parsed.ResubmitComment
	}
	return policy, policy.Validate()
}

func (p Policy) Validate() error {
	if p.DefaultMaxRate <= 0 {
		return fmt.Errorf("defaultMaxRate must be positive")
	}
	for grade, priority := range p.GradePriorities {
		if grade == "" {
			return fmt.Errorf("gradePriorities contains an empty grade")
		}
		if priority <= 0 {
			return fmt.Errorf("gradePriorities[%s] must be positive", grade)
		}
	}
	return nil
}
