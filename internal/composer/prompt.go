// Package composer renders the prompts sent to providers: the attempt
// history, the current failure, and any site-specific instructions.
package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const defaultMaxOutputTokens = 4000

// Composer assembles analysis prompts. Terminal output longer than the token
// budget is cut from the front, since errors usually come last.
type Composer struct {
	MaxOutputTokens int
}

// New creates a Composer with the given token budget for captured output.
// If maxOutputTokens <= 0, the default (4000) is used.
func New(maxOutputTokens int) *Composer {
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	return &Composer{MaxOutputTokens: maxOutputTokens}
}

// Analyze builds the full prompt for a failing output, prefixed by
// sitePrompt when one applies.
func (c *Composer) Analyze(output, script string, history []Attempt, sitePrompt string) string {
	return WithSitePrompt(sitePrompt, BuildPromptWithContext(c.truncate(output), script, history))
}

// Improve builds the prompt for a standalone script improvement.
func (c *Composer) Improve(script, sitePrompt string) string {
	return WithSitePrompt(sitePrompt, BuildImprovePrompt(script))
}

const truncatedMarker = "...[truncated]\n"

func (c *Composer) truncate(output string) string {
	if EstimateTokens(output) <= c.MaxOutputTokens {
		return output
	}
	start := len(output) - c.MaxOutputTokens*4
	for start < len(output) && !utf8.RuneStart(output[start]) {
		start++
	}
	tail := output[start:]
	// Do not start mid-line.
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return truncatedMarker + tail
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// BuildConversationContext renders previous attempts in order. It returns ""
// for an empty history so first-attempt prompts carry no history section.
func BuildConversationContext(history []Attempt) string {
	if len(history) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n## Previous Attempts (learn from these!):\n")
	for i, a := range history {
		fmt.Fprintf(&sb, "\nAttempt %d:\n", i+1)
		fmt.Fprintf(&sb, "Script tried:\n%s\n", a.Script)
		fmt.Fprintf(&sb, "Result/Error:\n%s\n", a.Output)
		fmt.Fprintf(&sb, "Improvement made:\n%s\n", a.Improved)
		sb.WriteString("---\n")
	}
	sb.WriteString("\nThe script is STILL failing. Learn from previous attempts and try a DIFFERENT approach.\n")
	return sb.String()
}

// BuildPromptWithContext composes the analysis prompt for the current output.
func BuildPromptWithContext(output, script string, history []Attempt) string {
	retrying := len(history) > 0

	var sb strings.Builder
	sb.WriteString("You are helping debug a command or script that ")
	if retrying {
		fmt.Fprintf(&sb, "is STILL failing after %d attempts", len(history))
	} else {
		sb.WriteString("may have failed or produced unexpected output")
	}
	sb.WriteString(".\n")
	sb.WriteString(BuildConversationContext(history))
	sb.WriteString("\n\n## Current Attempt:\n")
	if script != "" {
		fmt.Fprintf(&sb, "Current Script:\n%s\n\n", script)
	}
	fmt.Fprintf(&sb, "Latest Output/Error:\n%s\n\n", output)

	if retrying {
		sb.WriteString("IMPORTANT: The previous approaches did NOT work. Try a COMPLETELY DIFFERENT solution. Consider:\n" +
			"- Different tools or commands\n" +
			"- Alternative logic or approach\n" +
			"- Checking different error conditions\n" +
			"- Using different syntax or methods\n\n")
	}

	sb.WriteString("Provide ONLY the improved script with no explanation, ready to run immediately.\n" +
		"Focus on:\n" +
		"- Fixing any errors shown in the output\n" +
		"- Adding better error handling\n" +
		"- Improving efficiency and reliability\n" +
		"- Making the script more robust\n")
	if retrying {
		sb.WriteString("- Using a DIFFERENT approach than previous attempts")
	}
	sb.WriteString("\n\nReturn only the executable script code, nothing else.")
	return sb.String()
}

// BuildImprovePrompt asks for a hardened version of a script that has not
// necessarily failed.
func BuildImprovePrompt(script string) string {
	return "Improve the following command or script for better error handling, efficiency, and reliability:\n\n" +
		script + "\n\n" +
		"Provide ONLY the improved script with no explanation, ready to run immediately.\n" +
		"Focus on:\n" +
		"- Adding comprehensive error handling\n" +
		"- Improving performance and efficiency\n" +
		"- Making the script more maintainable\n" +
		"- Adding necessary validation\n" +
		"- Ensuring idempotency where appropriate\n\n" +
		"Return only the executable script code, nothing else."
}

// WithSitePrompt prepends site-specific instructions to prompt. Blank
// instructions leave prompt unchanged.
func WithSitePrompt(sitePrompt, prompt string) string {
	sitePrompt = strings.TrimSpace(sitePrompt)
	if sitePrompt == "" {
		return prompt
	}
	return "## Site Instructions:\n" + sitePrompt + "\n\n---\n\n" + prompt
}
