package organism

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/internal/util"
	"gopkg.in/yaml.v3"
)

// ListenerDef is a parsed, resolved listener entry: the static metadata an
// organism.yaml document can fully express for one handler, mirroring
// original_source/src/organism/mod.rs's ListenerDef.
type ListenerDef struct {
	Name                string
	PayloadTags         []string
	Handler             string
	Description         string
	SemanticDescription string
	Peers               []string

	IsAgent       bool
	AgentPrompt   string
	AgentModel    string
	MaxTokens     int
	MaxIterations int
}

// Registration returns the core.HandlerRegistration this listener
// contributes, with Impl left nil — a YAML document cannot name a Go
// value. Callers graft the real Impl (and, where the handler validates
// payload shape, a RequestSchema/ResponseSchema) on afterward:
//
//	reg := def.Registration()
//	reg.Impl = myHandler
//	reg.RequestSchema = mySchema
func (d ListenerDef) Registration() core.HandlerRegistration {
	return core.HandlerRegistration{
		Name:                d.Name,
		PayloadTags:         append([]string(nil), d.PayloadTags...),
		Description:         d.Description,
		SemanticDescription: d.SemanticDescription,
		Peers:               append([]string(nil), d.Peers...),
	}
}

// Organism is the fully parsed, resolved configuration: every listener
// definition, every named prompt block, and every security profile, with a
// profile's "all" listener shorthand already expanded into the literal set
// of listener names present in this document (see doc.go).
type Organism struct {
	Name      string
	Listeners []ListenerDef
	Prompts   map[string]string
	Profiles  map[string]core.Profile
}

// Listener looks up a parsed listener definition by name.
func (o *Organism) Listener(name string) (ListenerDef, bool) {
	for _, l := range o.Listeners {
		if l.Name == name {
			return l, true
		}
	}
	return ListenerDef{}, false
}

// Prompt looks up a named prompt block, as referenced from an agent
// listener's prompt field via a "${block_name}" style reference. Composition
// beyond flat lookup (e.g. template interpolation) is left to the caller;
// this package only owns parsing the organism document, not prompt
// templating.
func (o *Organism) Prompt(name string) (string, bool) {
	p, ok := o.Prompts[name]
	return p, ok
}

// RenderPrompt resolves a named prompt block and substitutes vars into it
// via Go's templating, the same "{{...}}" convention the teacher's
// internal/util.RenderTemplate already uses for prompt composition. An
// agent listener's prompt field is expected to reference these blocks by
// name at the cmd/ wiring layer, not inline template syntax of its own.
func (o *Organism) RenderPrompt(name string, vars map[string]any) (string, error) {
	p, ok := o.Prompts[name]
	if !ok {
		return "", fmt.Errorf("organism: no prompt block named %q", name)
	}
	return util.RenderTemplate(p, vars)
}

// Load reads and parses an organism.yaml document from path. A prompt value
// of the form "file:relative/path.md" is resolved relative to path's
// directory, per original_source's load_prompt_file convention.
func Load(path string) (*Organism, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("organism: reading %s: %w", path, err)
	}
	return parse(data, filepath.Dir(path))
}

// Parse parses an organism.yaml document's raw bytes into an Organism. A
// "file:" prompt prefix is resolved relative to the current working
// directory; prefer Load when the document was itself read from disk.
func Parse(data []byte) (*Organism, error) {
	return parse(data, "")
}

func parse(data []byte, baseDir string) (*Organism, error) {
	var doc organismYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("organism: invalid document: %w", err)
	}

	prompts := make(map[string]string, len(doc.Prompts))
	for name, value := range doc.Prompts {
		if rest, ok := strings.CutPrefix(value, "file:"); ok {
			promptPath := strings.TrimSpace(rest)
			if baseDir != "" && !filepath.IsAbs(promptPath) {
				promptPath = filepath.Join(baseDir, promptPath)
			}
			content, err := os.ReadFile(promptPath)
			if err != nil {
				return nil, fmt.Errorf("organism: prompt %q: reading %s: %w", name, promptPath, err)
			}
			prompts[name] = string(content)
		} else {
			prompts[name] = value
		}
	}

	listenerNames := make([]string, 0, len(doc.Listeners))
	listeners := make([]ListenerDef, 0, len(doc.Listeners))
	seen := make(map[string]struct{}, len(doc.Listeners))
	for _, l := range doc.Listeners {
		if l.Name == "" {
			return nil, fmt.Errorf("organism: listener entry missing name")
		}
		if _, dup := seen[l.Name]; dup {
			return nil, fmt.Errorf("organism: duplicate listener name %q", l.Name)
		}
		seen[l.Name] = struct{}{}

		def := ListenerDef{
			Name:                l.Name,
			PayloadTags:         []string{payloadTagFromClass(l.PayloadClass)},
			Handler:             l.Handler,
			Description:         l.Description,
			SemanticDescription: l.SemanticDescription,
			Peers:               l.Peers,
			IsAgent:             l.Agent.IsAgent,
		}
		if def.IsAgent {
			def.AgentPrompt = l.Agent.Config.Prompt
			def.AgentModel = l.Agent.Config.Model
			def.MaxTokens = l.Agent.Config.MaxTokens
			def.MaxIterations = l.Agent.Config.MaxIterations
		}
		listeners = append(listeners, def)
		listenerNames = append(listenerNames, l.Name)
	}
	sort.Strings(listenerNames)

	profiles := make(map[string]core.Profile, len(doc.Profiles))
	for name, p := range doc.Profiles {
		names := p.Listeners.Names
		if p.Listeners.All {
			names = listenerNames
		}
		table, err := dispatchTableFor(names, listeners)
		if err != nil {
			return nil, fmt.Errorf("organism: profile %q: %w", name, err)
		}

		profiles[name] = core.Profile{
			Name:             name,
			DispatchTable:    table,
			NetworkAllowlist: p.Network,
			JournalRetention: retentionFor(p.Journal),
			Identity:         p.Identity,
		}
	}

	return &Organism{
		Name:      doc.Organism.Name,
		Listeners: listeners,
		Prompts:   prompts,
		Profiles:  profiles,
	}, nil
}

// payloadTagFromClass derives a payload_tag from a dotted class path (e.g.
// "handlers.code.CodeRequest" -> "CodeRequest"), mirroring
// original_source's `payload_class.rsplit('.').next()`.
func payloadTagFromClass(class string) string {
	if idx := strings.LastIndex(class, "."); idx >= 0 {
		return class[idx+1:]
	}
	return class
}

// dispatchTableFor builds the payload_tag -> handler-names table a profile
// permitting exactly `names` resolves to, per §4.1's dispatch table shape.
// A payload_tag bound by two of those listeners is a configuration error.
func dispatchTableFor(names []string, all []ListenerDef) (core.DispatchTable, error) {
	byName := make(map[string]ListenerDef, len(all))
	for _, l := range all {
		byName[l.Name] = l
	}

	table := core.DispatchTable{}
	for _, name := range names {
		def, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("listener %q is not defined", name)
		}
		for _, tag := range def.PayloadTags {
			if existing := table[tag]; len(existing) > 0 {
				return nil, fmt.Errorf("payload_tag %q already routes to %q, cannot also bind %q", tag, existing[0], def.Name)
			}
			table[tag] = append(table[tag], def.Name)
		}
	}
	return table, nil
}

func retentionFor(j journalSpec) core.RetentionPolicy {
	switch j.Kind {
	case "prune_on_delivery":
		return core.RetentionPolicy{Kind: core.PruneOnDelivery}
	case "retain_days":
		return core.RetentionPolicy{Kind: core.RetainDays, Days: j.Days}
	default:
		return core.RetentionPolicy{Kind: core.RetainForever}
	}
}
