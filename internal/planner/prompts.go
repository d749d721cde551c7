package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

type taskView struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels"`
}

func tasksJSON(tasks []models.Task, withBody bool) string {
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{Number: t.ID, Title: t.Title, Labels: t.Labels}
		if withBody {
			v.Body = t.Body
		}
		if v.Labels == nil {
			v.Labels = []string{}
		}
		views = append(views, v)
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func featurePrompt(description string) string {
	return fmt.Sprintf(`You are a project planner. Based on this description, create a list of features with title, description and priority (1 = high):

"""
%s
"""

Format:
[
  {
    "title": "...",
    "description": "...",
    "priority": 1
  }
]`, strings.TrimSpace(description))
}

func taskPrompt(feature models.Feature, open []models.Task) string {
	return fmt.Sprintf(`You are planning the development of an application.
What should be implemented next for this feature of the project?

Title: %s
Description: %s

These tasks already exist in the project:
%s

Create only the tasks that still need to be implemented and do not have a task yet, each with a detailed and clear description.
Every task needs a title, a body and a fitting label (frontend, backend, qa or devops).

Format:
[
  {
    "title": "...",
    "body": "...",
    "labels": ["frontend"]
  }
]`, feature.Title, feature.Description, tasksJSON(open, false))
}

const planFormat = `[
  {
    "agent": "frontend" | "backend" | "qa" | "devops",
    "issue_number": int
  }
]`

func planPrompt(open []models.Task, minSteps, maxSteps int) string {
	return fmt.Sprintf(`You are a project lead. Based on these open tasks (title, labels, priority), decide which should be worked on next. Return the next %d to %d steps:

%s

Format:
%s`, minSteps, maxSteps, tasksJSON(open, false), planFormat)
}

func planRetryPrompt(open []models.Task) string {
	return fmt.Sprintf(`The previous answer was not valid JSON in the following format:

%s

Only use issue numbers from the open tasks below:
%s

Reply **only** with a valid JSON list like the one above.`, planFormat, tasksJSON(open, false))
}

func priorityPrompt(open []models.Task) string {
	return fmt.Sprintf(`You are a project manager. Prioritize the following tasks by title, description and labels. Give each task a priority from 1 (high) to 3 (low) and return updated labels:

%s

Format:
[
  {
    "number": 23,
    "priority": 1,
    "labels": ["frontend", "open"]
  }
]`, tasksJSON(open, true))
}

func designPrompt(feature models.Feature) string {
	return fmt.Sprintf(`You are a UI/UX designer for a mobile app. Create a design proposal for this feature:

Title: %s
Description: %s

Include ASCII mockups, a Flutter component structure and design recommendations.
Return everything as Markdown.`, feature.Title, feature.Description)
}
