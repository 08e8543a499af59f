package organism

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// organismYAML mirrors original_source/src/organism/parser.rs's OrganismYaml
// top-level shape. Schema and Impl binding are a Go-side concern (a
// core.HandlerRegistration's RequestSchema/ResponseSchema/Impl fields have
// no YAML-expressible representation); this loader only carries the
// metadata original_source's ListenerDef itself carried, and
// ListenerDef.Registration lets cmd/ wiring graft the Go-side fields on
// afterward.
type organismYAML struct {
	Organism struct {
		Name string `yaml:"name"`
	} `yaml:"organism"`
	Listeners []listenerYAML         `yaml:"listeners"`
	Profiles  map[string]profileYAML `yaml:"profiles"`
	Prompts   map[string]string      `yaml:"prompts"`
}

type listenerYAML struct {
	Name                string         `yaml:"name"`
	PayloadClass        string         `yaml:"payload_class"`
	Handler             string         `yaml:"handler"`
	Description         string         `yaml:"description"`
	SemanticDescription string         `yaml:"semantic_description"`
	Agent               agentFieldYAML `yaml:"agent"`
	Peers               []string       `yaml:"peers"`
}

// agentFieldYAML accepts `agent: true` or `agent: { prompt: ..., model: ... }`,
// the same bool-or-block flexibility as original_source's AgentFieldYaml.
type agentFieldYAML struct {
	IsAgent bool
	Config  agentConfigYAML
}

func (a *agentFieldYAML) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("organism: agent field must be a bool or a config block: %w", err)
		}
		a.IsAgent = b
		if b {
			a.Config = defaultAgentConfig()
		}
		return nil
	case yaml.MappingNode:
		cfg := defaultAgentConfig()
		if err := value.Decode(&cfg); err != nil {
			return fmt.Errorf("organism: invalid agent config block: %w", err)
		}
		a.IsAgent = true
		a.Config = cfg
		return nil
	default:
		return fmt.Errorf("organism: agent field must be a bool or a mapping, got %v", value.Kind)
	}
}

type agentConfigYAML struct {
	Prompt        string `yaml:"prompt"`
	MaxTokens     int    `yaml:"max_tokens"`
	MaxIterations int    `yaml:"max_iterations"`
	Model         string `yaml:"model"`
}

func defaultAgentConfig() agentConfigYAML {
	return agentConfigYAML{MaxTokens: 4096, MaxIterations: 5}
}

type profileYAML struct {
	Identity  string        `yaml:"linux_user"`
	Listeners listenersSpec `yaml:"listeners"`
	Journal   journalSpec   `yaml:"journal"`
	Network   []string      `yaml:"network"`
}

// listenersSpec accepts `listeners: all` or `listeners: [name, ...]`, per
// original_source's ListenersSpec untagged enum.
type listenersSpec struct {
	All   bool
	Names []string
}

func (l *listenersSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s == "all" {
			l.All = true
			return nil
		}
		l.Names = []string{s}
		return nil
	case yaml.SequenceNode:
		return value.Decode(&l.Names)
	default:
		return fmt.Errorf("organism: profile listeners must be \"all\" or a list, got %v", value.Kind)
	}
}

// journalSpec accepts `journal: retain_forever`, `journal: prune_on_delivery`,
// or `journal: { retain_days: N }`, per original_source's JournalSpec.
type journalSpec struct {
	Kind string // "retain_forever", "prune_on_delivery", "retain_days"
	Days int
}

func (j *journalSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		j.Kind = "retain_forever"
		return nil
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		switch s {
		case "retain_forever", "prune_on_delivery":
			j.Kind = s
			return nil
		default:
			return fmt.Errorf("organism: unknown journal retention %q", s)
		}
	case yaml.MappingNode:
		var spec struct {
			RetainDays int `yaml:"retain_days"`
		}
		if err := value.Decode(&spec); err != nil {
			return err
		}
		j.Kind = "retain_days"
		j.Days = spec.RetainDays
		return nil
	default:
		return fmt.Errorf("organism: invalid journal retention spec")
	}
}
