package governance

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/atlanticdynamic/mcpverify/internal/script"
)

// truncationMarker is appended to every string cut by the capping helpers.
const truncationMarker = "...[truncated]"

// CapOutput bounds the JSON encoding of value to maxBytes. A value over the
// limit is replaced by an object holding a preview of its encoding.
func CapOutput(value any, maxBytes int) (any, bool, error) {
	if value == nil || maxBytes <= 0 {
		return value, false, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, false, err
	}
	if len(encoded) <= maxBytes {
		return value, false, nil
	}
	return map[string]any{
		"truncated":      true,
		"original_bytes": len(encoded),
		"preview":        TruncateString(string(encoded), maxBytes),
	}, true, nil
}

// CapLogs keeps entries while their cumulative message size fits in
// maxBytes. When entries are dropped or shortened, a warning entry stating
// how many were dropped is appended.
func CapLogs(entries []script.LogEntry, maxBytes int) ([]script.LogEntry, bool) {
	if maxBytes <= 0 {
		return entries, false
	}
	var (
		total     int
		truncated bool
		out       = make([]script.LogEntry, 0, len(entries))
	)
	for i, entry := range entries {
		remaining := maxBytes - total
		if remaining <= 0 {
			out = append(out, droppedEntry(len(entries)-i))
			return out, true
		}
		if len(entry.Message) > remaining {
			entry.Message = TruncateString(entry.Message, remaining)
			truncated = true
		}
		total += len(entry.Message)
		out = append(out, entry)
	}
	return out, truncated
}

func droppedEntry(n int) script.LogEntry {
	return script.LogEntry{
		Level:     script.LevelWarn,
		Message:   fmt.Sprintf("log output truncated: %d entries dropped", n),
		Timestamp: time.Now(),
	}
}

// TruncateString cuts s to at most maxBytes bytes, including the marker,
// without splitting a UTF-8 sequence.
func TruncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	keep := maxBytes - len(truncationMarker)
	if keep <= 0 {
		return truncationMarker[:min(maxBytes, len(truncationMarker))]
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + truncationMarker
}

// Finalize applies the output and log caps to res in place.
func Finalize(res *script.Result, maxBytes int) *script.Result {
	if res == nil {
		return nil
	}
	logs, logsCut := CapLogs(res.Logs, maxBytes)
	res.Logs = logs
	if logsCut {
		res.Truncated = true
	}
	if !res.Success {
		return res
	}
	out, outCut, err := CapOutput(res.Output, maxBytes)
	if err != nil {
		res.Success = false
		res.Output = nil
		res.Error = script.NewSerializationError(err.Error())
		return res
	}
	res.Output = out
	if outCut {
		res.Truncated = true
	}
	return res
}
