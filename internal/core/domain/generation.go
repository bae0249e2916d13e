package domain

// CompletionRequest is the provider-agnostic generation input.
type CompletionRequest struct {
	System      string
	Messages    []ChatTurn
	MaxTokens   int
	Temperature float64
}

type CompletionResult struct {
	Text  string
	Usage TokenUsage
}

// StreamDelta is one increment of a streamed completion. Done marks the end
// of the stream; Err, when set, terminates it.
type StreamDelta struct {
	Content string
	Done    bool
	Usage   *TokenUsage
	Err     error
}
