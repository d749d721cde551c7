package capability

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

func openTaskList(open []models.Task) string {
	if len(open) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range open {
		fmt.Fprintf(&b, "- #%d %s\n", t.ID, t.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func codegenPrompt(cfg CodegenConfig, task models.Task, readme, apiDocs string, open []models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s. Here is the project overview:\n\n%s\n\n", cfg.Role, orNone(readme))
	if cfg.APIDocs {
		fmt.Fprintf(&b, "Current API documentation:\n%s\n\n", orNone(apiDocs))
	}
	fmt.Fprintf(&b, "Currently open tasks:\n%s\n\n", openTaskList(open))
	fmt.Fprintf(&b, "Work on this task:\nTitle: %s\nDescription:\n\"\"\"\n%s\n\"\"\"\n\n", task.Title, task.Body)
	b.WriteString("Implement it and return the code inside a JSON object with these fields:\n\n")
	fmt.Fprintf(&b, "{\n  \"file\": %q,\n  \"code\": \"...\"\n}\n\n", cfg.ExamplePath)
	b.WriteString("Choose a file path that fits the purpose of the code (for example lib/screens/, lib/widgets/, lib/services/).")
	return b.String()
}

func apiDocsPrompt(cfg CodegenConfig, task models.Task, readme, current string, open []models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s. Here is the project overview:\n\n%s\n\n", cfg.Role, orNone(readme))
	fmt.Fprintf(&b, "Current API documentation:\n%s\n\n", orNone(current))
	fmt.Fprintf(&b, "Open tasks:\n%s\n\n", openTaskList(open))
	fmt.Fprintf(&b, "New backend function:\nTitle: %s\nDescription:\n\"\"\"\n%s\n\"\"\"\n\n", task.Title, task.Body)
	b.WriteString("Extend the Markdown API documentation where needed. Return the complete new api_docs.md.")
	return b.String()
}

func hintPrompt(prompt, problem string) string {
	return fmt.Sprintf("A code generation request did not produce a usable result (%s).\n\n"+
		"The request was:\n\"\"\"\n%s\n\"\"\"\n\n"+
		"Write a short comment for the task explaining what information or wording "+
		"would lead to usable code next time.", problem, prompt)
}

func releaseBody(project, version string) string {
	return fmt.Sprintf("Automated release %s of %s.", version, project)
}
