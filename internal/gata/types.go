package gata

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Task is a single caption-labeling assignment. It is never cached.
type Task struct {
	ID   FlexString `json:"id"`
	Text string     `json:"text"`
	Link string     `json:"link"`
}

// Empty reports whether the service returned no usable task.
func (t Task) Empty() bool {
	return strings.TrimSpace(string(t.ID)) == ""
}

// GrantScope selects which scoped token /api/grant issues.
type GrantScope int

const (
	GrantLLM  GrantScope = 0
	GrantTask GrantScope = 1
)

func (s GrantScope) String() string {
	switch s {
	case GrantTask:
		return "task"
	case GrantLLM:
		return "llm"
	default:
		return "scope-" + strconv.Itoa(int(s))
	}
}

// RewardEntry is one day of reward history.
type RewardEntry struct {
	Date        string  `json:"date"`
	TotalPoints FlexInt `json:"total_points"`
}

// RewardsPage is one page of /api/task_rewards.
type RewardsPage struct {
	Total          FlexInt       `json:"total"`
	CompletedCount FlexInt       `json:"completed_count"`
	Rewards        []RewardEntry `json:"rewards"`
}

// FlexInt decodes numbers, numeric strings and anything else (as 0) the way
// the service's own frontend coerces them. Numbers truncate toward zero;
// strings keep their leading integer part.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(leadingInt(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil || n == "" {
		*f = 0
		return nil
	}
	*f = FlexInt(truncateNumber(n))
	return nil
}

func truncateNumber(n json.Number) int64 {
	if i, err := n.Int64(); err == nil {
		return i
	}
	v, err := n.Float64()
	if err != nil || math.IsNaN(v) {
		return 0
	}
	switch {
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Trunc(v))
}

// FlexString accepts either a JSON string or a number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
