package harness

import "errors"

var (
	// ErrCaller reports a missing or unusable tool caller.
	ErrCaller = errors.New("invalid tool caller")
	// ErrToolCall reports a tool call that failed at the transport or
	// protocol level. Tool errors flagged with isError are responses.
	ErrToolCall = errors.New("tool call failed")
	// ErrTestCase reports a test case definition that cannot run.
	ErrTestCase = errors.New("invalid test case")
	// ErrBeforePhase reports a before phase that rejected the request; the
	// tool is not called.
	ErrBeforePhase = errors.New("before validation failed")
)
