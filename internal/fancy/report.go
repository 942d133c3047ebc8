package fancy

import (
	"fmt"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/harness"
	"github.com/atlanticdynamic/mcpverify/internal/validation"
	"github.com/charmbracelet/lipgloss/tree"
)

const maxMessageLength = 160

// CaseReport renders a tree with one branch per test case. Verbose adds
// the log lines each script printed.
func CaseReport(title string, results []*harness.TestCaseResult, verbose bool) string {
	passed, failed := harness.Summary(results)
	summary := fmt.Sprintf("%d passed, %d failed", passed, failed)
	root := Tree().Root(RootStyle.Render(title) + " " + InfoStyle.Render(summary))
	for _, r := range results {
		if r == nil {
			continue
		}
		root.Child(caseNode(r, verbose))
	}
	return root.String()
}

func caseNode(r *harness.TestCaseResult, verbose bool) *tree.Tree {
	status := PassText("PASS")
	if !r.Success {
		status = ErrorText("FAIL")
	}
	node := Tree().Root(fmt.Sprintf("%s %s %s",
		status, HeaderStyle.Render(r.Name), InfoStyle.Render(formatDuration(r.Duration))))

	reported := false
	for _, phase := range []*validation.Result{r.Before, r.After} {
		if phase == nil {
			continue
		}
		for _, e := range phase.Errors {
			node.Child(ErrorText("✗ " + TruncateString(e.Error(), maxMessageLength)))
			reported = true
		}
		for _, w := range phase.Warnings {
			node.Child(WarnText("! " + TruncateString(warningText(w), maxMessageLength)))
		}
	}
	if r.Error != nil && !reported {
		node.Child(ErrorText("✗ " + TruncateString(r.Error.Error(), maxMessageLength)))
	}

	if len(r.Scripts) > 0 {
		scripts := BranchNode("scripts", fmt.Sprintf("(%d)", len(r.Scripts)))
		for _, s := range r.Scripts {
			scripts.Child(scriptNode(s, verbose))
		}
		node.Child(scripts)
	}
	return node
}

func scriptNode(s validation.ScriptResult, verbose bool) any {
	status := PassText("ok")
	if !s.Success {
		status = ErrorText("failed")
		if s.ErrorKind != "" {
			status = ErrorText(string(s.ErrorKind))
		}
	}
	label := fmt.Sprintf("%s %s %s %s",
		ScriptText(s.Name),
		InfoStyle.Render(fmt.Sprintf("(%s, %s)", s.Language, s.Phase)),
		status,
		InfoStyle.Render(formatDuration(s.Duration)),
	)
	if !verbose || len(s.Logs) == 0 {
		return label
	}
	node := Tree().Root(label)
	for _, entry := range s.Logs {
		node.Child(PathText(TruncateString(entry.String(), maxMessageLength)))
	}
	return node
}

func warningText(w validation.Warning) string {
	text := w.Source + ": " + w.Message
	if w.Field != "" {
		text = w.Source + ": " + w.Field + ": " + w.Message
	}
	if w.Suggestion != "" {
		text += " (" + w.Suggestion + ")"
	}
	return text
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(time.Millisecond).String()
}

// SyntaxCheck is the outcome of parsing one script.
type SyntaxCheck struct {
	Name     string
	Language string
	Err      error
}

// SyntaxReport renders syntax check outcomes.
func SyntaxReport(title string, checks []SyntaxCheck) string {
	invalid := 0
	for _, c := range checks {
		if c.Err != nil {
			invalid++
		}
	}
	summary := fmt.Sprintf("%d valid, %d invalid", len(checks)-invalid, invalid)
	root := Tree().Root(RootStyle.Render(title) + " " + InfoStyle.Render(summary))
	for _, c := range checks {
		label := fmt.Sprintf("%s %s", PathText(c.Name), InfoStyle.Render("("+c.Language+")"))
		if c.Err == nil {
			root.Child(PassText("✓") + " " + label)
			continue
		}
		root.Child(Tree().Root(ErrorText("✗")+" "+label).
			Child(ErrorText(TruncateString(c.Err.Error(), maxMessageLength))))
	}
	return root.String()
}
