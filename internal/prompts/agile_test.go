package prompts

import (
	"strings"
	"testing"
)

func TestWorkItemMessage(t *testing.T) {
	tests := []struct {
		name     string
		workItem string
		context  string
		want     string
	}{
		{
			name:     "no context",
			workItem: "Fix the slow dashboard",
			want:     "Work Item:\nFix the slow dashboard",
		},
		{
			name:     "with context",
			workItem: "Fix the slow dashboard",
			context:  "We are a data platform team using Python and Airflow.",
			want:     "Team/Project Context:\nWe are a data platform team using Python and Airflow.\n\nWork Item:\nFix the slow dashboard",
		},
		{
			name:     "whitespace context is still context",
			workItem: "Fix it",
			context:  " ",
			want:     "Team/Project Context:\n \n\nWork Item:\nFix it",
		},
		{
			name:     "context kept verbatim",
			workItem: "x",
			context:  " padded ",
			want:     "Team/Project Context:\n padded \n\nWork Item:\nx",
		},
		{
			name:     "multiline work item kept verbatim",
			workItem: "line one\nline two\n",
			want:     "Work Item:\nline one\nline two\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorkItemMessage(tt.workItem, tt.context); got != tt.want {
				t.Errorf("WorkItemMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgileCoachSystem_SectionOrder(t *testing.T) {
	last := -1
	for _, section := range RequiredSections {
		idx := strings.Index(AgileCoachSystem, "## "+section+"\n")
		if idx < 0 {
			t.Fatalf("system prompt missing heading %q", section)
		}
		if idx <= last {
			t.Errorf("heading %q out of order", section)
		}
		last = idx
	}
}

func TestAgileCoachSystem_Guidelines(t *testing.T) {
	for _, want := range []string{
		"Be specific",
		"Focus on value",
		"Make it testable",
		"Right-size it",
		"Identify dependencies",
		"Use domain language",
		"Fibonacci",
		"Deployed to [environment]",
	} {
		if !strings.Contains(AgileCoachSystem, want) {
			t.Errorf("system prompt should contain %q", want)
		}
	}
	if strings.HasSuffix(AgileCoachSystem, "\n") {
		t.Error("system prompt should not end with a newline")
	}
}
