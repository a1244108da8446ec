package llm

import (
	"regexp"
	"strings"
)

var codeBlockPattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// StripMarkdownCodeBlock removes markdown code block formatting from LLM responses.
// Handles formats like: ```json\n{...}\n``` or ```\n{...}\n```
func StripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeBlockPattern.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}
