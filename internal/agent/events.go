package agent

// EventKind discriminates the progress events emitted while a response
// is produced.
type EventKind string

const (
	// EventToken carries a user-visible text fragment.
	EventToken EventKind = "token"
	// EventThinking carries a completed reasoning section.
	EventThinking EventKind = "thinking"
	// EventToolCallStart announces a capability invocation about to run.
	EventToolCallStart EventKind = "tool_call_start"
	// EventToolCallDone carries the invocation's result or error text.
	EventToolCallDone EventKind = "tool_call_done"
	// EventDone closes the turn; Text holds the final answer.
	EventDone EventKind = "done"
)

// Event is one step notification. OnEvent callbacks receive events in
// order on the responding goroutine.
type Event struct {
	Kind      EventKind
	Text      string
	Operation string
	Iteration int
}

// OnEvent observes response progress. A nil callback is allowed.
type OnEvent func(Event)
