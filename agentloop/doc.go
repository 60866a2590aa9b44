// Package agentloop holds the host-facing contract types the turn engine
// is built against: who the model is talking to (ProviderProfile), where
// its tools run (ExecutionEnvironment), what tools are on offer
// (ToolRegistry), and how the session reports what happened
// (EventEmitter/SessionEvent). It intentionally does not implement a turn
// loop itself — engine.Engine does that, driving these types together with
// the context window, streaming tool parser, dispatcher, retry classifier,
// compactor, and session store.
//
// Per spec section 1's Non-goals, this package stops at the dispatch
// contract: individual tool bodies (shell, filesystem, browser automation,
// OCR) and provider wire formats are a caller's concern, not this package's.
//
// # Quick Start
//
//	registry := agentloop.NewToolRegistry()
//	registry.Register(agentloop.RegisteredTool{
//	    Definition: agentloop.ToolDefinition{Name: "read_file"},
//	    Executor:   myReadFileTool,
//	})
//
//	// myProfile embeds *agentloop.BaseProfile and adds BuildSystemPrompt,
//	// which BaseProfile does not provide.
//	profile := &myProfile{BaseProfile: agentloop.NewBaseProfile("anthropic", "claude-opus-4-6", registry).
//	    WithCapabilities(true, true, 200_000)}
//	env := agentloop.NewLocalExecutionEnvironment("/path/to/project")
//
//	cfg := engine.Config{Profile: profile, Env: env, SessionID: "sess-1", ...}
//	e := engine.New(cfg, client, nil)
//
//	go func() {
//	    for event := range e.Events() {
//	        fmt.Printf("[%s] %v\n", event.Kind, event.Data)
//	    }
//	}()
package agentloop
