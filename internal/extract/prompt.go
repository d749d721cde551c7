package extract

import (
	"fmt"
	"strings"
)

// maxEchoedResponse bounds how much of a failed response is echoed back.
const maxEchoedResponse = 4000

// CorrectivePrompt builds the re-prompt sent after a parse failure.
// It depends only on its arguments.
func CorrectivePrompt(original, raw, shape string) string {
	if strings.TrimSpace(shape) == "" {
		shape = "a JSON value"
	}
	echo := strings.TrimSpace(raw)
	if echo == "" {
		echo = "(empty response)"
	}
	if len(echo) > maxEchoedResponse {
		echo = echo[:maxEchoedResponse] + "\n...(truncated)"
	}

	return fmt.Sprintf(`The following request was sent:

"""
%s
"""

The reply was:

"""
%s
"""

The reply could not be parsed as JSON. Answer the original request again.
Respond with ONLY valid JSON: %s. Do not add explanations, comments or markdown outside the JSON.`,
		strings.TrimSpace(original), echo, shape)
}
