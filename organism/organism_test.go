package organism

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dispatchfabric/fabric/core"
	"github.com/stretchr/testify/require"
)

const fullOrganismYAML = `
organism:
  name: bestcode

listeners:
  - name: coding-agent
    payload_class: handlers.code.CodeRequest
    handler: handlers.code.handle
    description: "Opus coding agent"
    agent: true
    peers: [file-ops, shell]

  - name: file-ops
    payload_class: handlers.files.FileRequest
    handler: handlers.files.handle
    description: "File operations"

  - name: shell
    payload_class: handlers.shell.ShellRequest
    handler: handlers.shell.handle
    description: "Shell execution"

  - name: faq
    payload_class: handlers.faq.FaqRequest
    handler: handlers.faq.handle
    description: "FAQ handler"

profiles:
  root:
    linux_user: agentos-root
    listeners: all
    journal: retain_forever
  admin:
    linux_user: agentos-admin
    listeners: [file-ops, shell, coding-agent]
    journal:
      retain_days: 90
  public:
    linux_user: agentos-public
    listeners: [faq]
    journal: prune_on_delivery
`

func TestParseFullOrganism(t *testing.T) {
	org, err := Parse([]byte(fullOrganismYAML))
	require.NoError(t, err)
	require.Equal(t, "bestcode", org.Name)
	require.Len(t, org.Listeners, 4)

	root, ok := org.Profiles["root"]
	require.True(t, ok)
	require.Equal(t, "agentos-root", root.Identity)
	require.Len(t, root.DispatchTable.HandlerSet(), 4)
	require.Equal(t, core.RetainForever, root.JournalRetention.Kind)

	admin := org.Profiles["admin"]
	require.Len(t, admin.DispatchTable.HandlerSet(), 3)
	require.True(t, admin.DispatchTable.Contains("FileRequest", "file-ops"))
	require.False(t, admin.DispatchTable.Contains("FaqRequest", "faq"))
	require.Equal(t, core.RetainDays, admin.JournalRetention.Kind)
	require.Equal(t, 90, admin.JournalRetention.Days)

	public := org.Profiles["public"]
	require.Len(t, public.DispatchTable.HandlerSet(), 1)
	require.True(t, public.DispatchTable.Contains("FaqRequest", "faq"))
	require.Equal(t, core.PruneOnDelivery, public.JournalRetention.Kind)

	codingAgent, ok := org.Listener("coding-agent")
	require.True(t, ok)
	require.True(t, codingAgent.IsAgent)
	require.Equal(t, 4096, codingAgent.MaxTokens)
	require.Equal(t, 5, codingAgent.MaxIterations)
	require.Equal(t, []string{"file-ops", "shell"}, codingAgent.Peers)
	require.Equal(t, []string{"CodeRequest"}, codingAgent.PayloadTags)
}

func TestParseMinimalOrganism(t *testing.T) {
	org, err := Parse([]byte(`
organism:
  name: minimal
listeners: []
`))
	require.NoError(t, err)
	require.Equal(t, "minimal", org.Name)
	require.Empty(t, org.Listeners)
}

func TestParseAgentConfigBlock(t *testing.T) {
	org, err := Parse([]byte(`
organism:
  name: test-agent-config
listeners:
  - name: coding-agent
    payload_class: handlers.code.CodeRequest
    handler: handlers.code.handle
    description: "agent"
    agent:
      prompt: "You are a senior Go engineer."
      max_tokens: 8192
      max_iterations: 12
      model: opus
`))
	require.NoError(t, err)
	def, ok := org.Listener("coding-agent")
	require.True(t, ok)
	require.True(t, def.IsAgent)
	require.Equal(t, "You are a senior Go engineer.", def.AgentPrompt)
	require.Equal(t, 8192, def.MaxTokens)
	require.Equal(t, 12, def.MaxIterations)
	require.Equal(t, "opus", def.AgentModel)
}

func TestParseAgentFieldFalseIsNotAnAgent(t *testing.T) {
	org, err := Parse([]byte(`
organism:
  name: test-false
listeners:
  - name: file-ops
    payload_class: handlers.files.FileRequest
    handler: handlers.files.handle
    description: "ops"
    agent: false
`))
	require.NoError(t, err)
	def, ok := org.Listener("file-ops")
	require.True(t, ok)
	require.False(t, def.IsAgent)
}

func TestParseRejectsUnknownListenerInProfile(t *testing.T) {
	_, err := Parse([]byte(`
organism:
  name: broken
listeners: []
profiles:
  admin:
    linux_user: agentos-admin
    listeners: [ghost]
    journal: retain_forever
`))
	require.Error(t, err)
}

func TestParseRejectsDuplicateListenerName(t *testing.T) {
	_, err := Parse([]byte(`
organism:
  name: dup
listeners:
  - name: file-ops
    payload_class: handlers.files.FileRequest
    handler: handlers.files.handle
    description: "a"
  - name: file-ops
    payload_class: handlers.files.FileRequest
    handler: handlers.files.handle
    description: "b"
`))
	require.Error(t, err)
}

func TestLoadResolvesFilePromptPrefix(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "test_prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("You are a test prompt from a file."), 0o644))

	orgPath := filepath.Join(dir, "organism.yaml")
	require.NoError(t, os.WriteFile(orgPath, []byte(`
organism:
  name: test-file-prompt
listeners: []
prompts:
  greeting: "file:test_prompt.md"
`), 0o644))

	org, err := Load(orgPath)
	require.NoError(t, err)
	prompt, ok := org.Prompt("greeting")
	require.True(t, ok)
	require.Equal(t, "You are a test prompt from a file.", prompt)
}

func TestRenderPromptSubstitutesVars(t *testing.T) {
	org, err := Parse([]byte(`
organism:
  name: test-prompts
listeners: []
prompts:
  greeting: "Hello {{.Name}}, you are running as {{.Profile}}."
`))
	require.NoError(t, err)

	rendered, err := org.RenderPrompt("greeting", map[string]any{"Name": "agent", "Profile": "admin"})
	require.NoError(t, err)
	require.Equal(t, "Hello agent, you are running as admin.", rendered)
}

func TestRenderPromptUnknownBlock(t *testing.T) {
	org, err := Parse([]byte(`
organism:
  name: empty
listeners: []
`))
	require.NoError(t, err)

	_, err = org.RenderPrompt("missing", nil)
	require.Error(t, err)
}

func TestRegistrationCarriesListenerMetadataWithoutImpl(t *testing.T) {
	org, err := Parse([]byte(fullOrganismYAML))
	require.NoError(t, err)
	def, ok := org.Listener("file-ops")
	require.True(t, ok)

	reg := def.Registration()
	require.Equal(t, "file-ops", reg.Name)
	require.Equal(t, []string{"FileRequest"}, reg.PayloadTags)
	require.Nil(t, reg.Impl)
}
