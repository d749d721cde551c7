package testrun

import (
	"bufio"
	"encoding/json"
	"strings"
)

// event covers the fields used from `go test -json` and `flutter test --machine` lines.
type event struct {
	// go test -json
	Action string `json:"Action"`
	Test   string `json:"Test"`

	// flutter --machine
	Type    string `json:"type"`
	Result  string `json:"result"`
	Hidden  bool   `json:"hidden"`
	Skipped bool   `json:"skipped"`
}

// ParseSummary counts test-case outcomes in machine-readable output.
// Lines that are not JSON events are ignored; plain output yields a zero Summary.
func ParseSummary(output string) Summary {
	var s Summary
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch {
		case ev.Type == "testDone":
			// Hidden entries are flutter's loading and setup pseudo-tests.
			if ev.Hidden {
				continue
			}
			switch {
			case ev.Skipped:
				s.Skipped++
			case ev.Result == "success":
				s.Passed++
			default:
				s.Failed++
			}
		case ev.Test != "":
			switch ev.Action {
			case "pass":
				s.Passed++
			case "fail":
				s.Failed++
			case "skip":
				s.Skipped++
			}
		}
	}
	return s
}
