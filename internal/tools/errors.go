package tools

import "errors"

// FailurePayload is the result handed back to the model when a tool fails.
const FailurePayload = "Tool execution failed"

// duplicateToolNameError is returned by Register when two definitions share a name.
type duplicateToolNameError struct{ name string }

func (e duplicateToolNameError) Error() string { return "duplicate tool name: " + e.name }

// IsDuplicateToolName reports whether err indicates a repeated tool name.
func IsDuplicateToolName(err error) bool {
	var e duplicateToolNameError
	return errors.As(err, &e)
}

// unknownToolError is returned by Dispatch for an unregistered name.
type unknownToolError struct{ name string }

func (e unknownToolError) Error() string { return "unknown tool: " + e.name }

// ErrUnknownTool constructs an unknownToolError.
func ErrUnknownTool(name string) error { return unknownToolError{name: name} }

// IsUnknownTool reports whether err indicates an unregistered tool.
func IsUnknownTool(err error) bool {
	var e unknownToolError
	return errors.As(err, &e)
}

// invalidDefinitionError rejects definitions without a name or handler.
type invalidDefinitionError struct{ name, reason string }

func (e invalidDefinitionError) Error() string {
	return "invalid tool definition " + quote(e.name) + ": " + e.reason
}

// IsInvalidDefinition reports whether err indicates a malformed definition.
func IsInvalidDefinition(err error) bool {
	var e invalidDefinitionError
	return errors.As(err, &e)
}

// argumentError signals arguments that do not fit a tool's parameters.
type argumentError struct{ param, reason string }

func (e argumentError) Error() string { return "argument " + quote(e.param) + ": " + e.reason }

// IsArgumentError reports whether err indicates a bad tool argument.
func IsArgumentError(err error) bool {
	var e argumentError
	return errors.As(err, &e)
}

func quote(s string) string { return `"` + s + `"` }
