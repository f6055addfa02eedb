package skills

import (
	"testing"
	"time"
)

func TestTriggerRuleMatches(t *testing.T) {
	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule TriggerRule
		text string
		now  time.Time
		want bool
	}{
		{
			name: "keyword match case insensitive",
			rule: TriggerRule{Kind: TriggerKeyword, Keywords: []string{"Python", "golang"}},
			text: "help me debug this GOLANG program",
			now:  noon,
			want: true,
		},
		{
			name: "keyword no match",
			rule: TriggerRule{Kind: TriggerKeyword, Keywords: []string{"python"}},
			text: "what's the weather",
			now:  noon,
			want: false,
		},
		{
			name: "empty keyword list never matches",
			rule: TriggerRule{Kind: TriggerKeyword},
			text: "anything",
			now:  noon,
			want: false,
		},
		{
			name: "regex match",
			rule: TriggerRule{Kind: TriggerRegex, Pattern: `(?i)translate .+ to \w+`},
			text: "Translate this sentence to French",
			now:  noon,
			want: true,
		},
		{
			name: "invalid regex never matches",
			rule: TriggerRule{Kind: TriggerRegex, Pattern: `([`},
			text: "anything",
			now:  noon,
			want: false,
		},
		{
			name: "hours in range",
			rule: TriggerRule{Kind: TriggerHours, StartHour: 9, EndHour: 17},
			now:  noon,
			want: true,
		},
		{
			name: "hours out of range",
			rule: TriggerRule{Kind: TriggerHours, StartHour: 9, EndHour: 17},
			now:  midnight,
			want: false,
		},
		{
			name: "hours wrapping midnight",
			rule: TriggerRule{Kind: TriggerHours, StartHour: 22, EndHour: 6},
			now:  midnight,
			want: true,
		},
		{
			name: "degenerate hour range never matches",
			rule: TriggerRule{Kind: TriggerHours, StartHour: 5, EndHour: 5},
			now:  noon,
			want: false,
		},
		{
			name: "unknown kind never matches",
			rule: TriggerRule{Kind: "carrier-pigeon"},
			text: "anything",
			now:  noon,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(tt.text, tt.now); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
