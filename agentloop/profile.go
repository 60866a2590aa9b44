package agentloop

// ProviderProfile is the host-supplied, provider-aligned configuration the
// C8 turn engine drives a session with: which tools are on offer, how the
// system prompt is built, and which provider-specific request knobs to set.
// Concrete profiles (a real Anthropic/OpenAI/Gemini tool-and-prompt bundle)
// are a caller concern — this package only defines the contract the engine
// and C4 dispatcher consume.
type ProviderProfile interface {
	// ID returns the provider identifier (e.g., "openai", "anthropic", "gemini").
	ID() string

	// ModelID returns the model identifier (e.g., "claude-opus-4-6").
	ModelID() string

	// ToolRegistry returns the tool registry for this profile.
	ToolRegistry() *ToolRegistry

	// BuildSystemPrompt constructs the full system prompt from environment
	// context and project documentation.
	BuildSystemPrompt(env ExecutionEnvironment, projectDocs string) string

	// Tools returns tool definitions for the LLM request.
	Tools() []ToolDefinition

	// ProviderOptions returns provider-specific request options.
	ProviderOptions() map[string]interface{}

	// Capability flags.
	SupportsReasoning() bool
	SupportsStreaming() bool
	SupportsParallelToolCalls() bool
	ContextWindowSize() int
}

// BaseProfile implements the bookkeeping every ProviderProfile needs
// (identity, registry, capability flags, and a nil ProviderOptions) so a
// concrete profile only has to supply BuildSystemPrompt by embedding this,
// overriding anything else that differs.
type BaseProfile struct {
	providerID                string
	model                     string
	registry                  *ToolRegistry
	supportsReasoning         bool
	supportsStreaming         bool
	supportsParallelToolCalls bool
	contextWindowSize         int
}

// NewBaseProfile constructs a BaseProfile with streaming support assumed
// (true for every provider this engine targets) and the other capability
// flags left at their zero value; chain WithCapabilities to set them.
func NewBaseProfile(providerID, model string, registry *ToolRegistry) *BaseProfile {
	return &BaseProfile{
		providerID:        providerID,
		model:             model,
		registry:          registry,
		supportsStreaming: true,
	}
}

// WithCapabilities sets the capability flags BaseProfile otherwise leaves
// zero-valued, returning the receiver for chaining off NewBaseProfile.
func (p *BaseProfile) WithCapabilities(reasoning, parallelToolCalls bool, contextWindowTokens int) *BaseProfile {
	p.supportsReasoning = reasoning
	p.supportsParallelToolCalls = parallelToolCalls
	p.contextWindowSize = contextWindowTokens
	return p
}

func (p *BaseProfile) ID() string                  { return p.providerID }
func (p *BaseProfile) ModelID() string              { return p.model }
func (p *BaseProfile) ToolRegistry() *ToolRegistry { return p.registry }

func (p *BaseProfile) Tools() []ToolDefinition {
	return p.registry.Definitions()
}

func (p *BaseProfile) ProviderOptions() map[string]interface{} {
	return nil
}

func (p *BaseProfile) SupportsReasoning() bool        { return p.supportsReasoning }
func (p *BaseProfile) SupportsStreaming() bool         { return p.supportsStreaming }
func (p *BaseProfile) SupportsParallelToolCalls() bool { return p.supportsParallelToolCalls }
func (p *BaseProfile) ContextWindowSize() int          { return p.contextWindowSize }
