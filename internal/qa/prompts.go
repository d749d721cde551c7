package qa

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// DefectShape describes the object expected from defect synthesis.
const DefectShape = `a JSON object {"title": "...", "body": "...", "labels": ["bug"]}`

func testPrompt(language, title, artifactPath, code string) string {
	var b strings.Builder
	if language == "dart" {
		b.WriteString("You are a Flutter test developer.\n")
		b.WriteString("Write a complete test file using flutter_test for the widget below.\n")
		b.WriteString("Use testWidgets and check for visible texts, buttons and input fields.\n\n")
	} else {
		fmt.Fprintf(&b, "You are a %s test developer.\n", language)
		b.WriteString("Write a complete, self-contained test file for the source below.\n\n")
	}
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "File: %s\n\n", artifactPath)
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", language, code)
	fmt.Fprintf(&b, "Return only the %s test code in a single fenced code block.", language)
	return b.String()
}

func defectPrompt(task models.Task, excerpt string) string {
	var b strings.Builder
	b.WriteString("An automated test failed. Write a short bug report task for it.\n\n")
	fmt.Fprintf(&b, "Original task: #%d %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&b, "Failure output:\n\"\"\"\n%s\n\"\"\"\n\n", excerpt)
	b.WriteString("Format:\n")
	b.WriteString("{\n  \"title\": \"...\",\n  \"body\": \"...\",\n  \"labels\": [\"bug\"]\n}")
	return b.String()
}

func failureComment(excerpt string) string {
	return "Automated check failed:\n```\n" + excerpt + "\n```"
}
