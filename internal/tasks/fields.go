package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// fieldSpec describes one enrichment output key.
type fieldSpec struct {
	key    string
	label  string
	inline bool
	list   bool
	format func(any) string
}

func (f fieldSpec) displayLabel() string {
	if f.label != "" {
		return f.label
	}
	return titleCaser.String(strings.ReplaceAll(f.key, "_", " "))
}

func (f fieldSpec) normalize(value any) any {
	if !f.list {
		return value
	}
	switch v := value.(type) {
	case nil:
		return []any{}
	case []any:
		return v
	default:
		return []any{v}
	}
}

func (f fieldSpec) display(value any) string {
	if f.format != nil {
		return f.format(value)
	}
	return formatValue(value)
}

// isBlank mirrors the "not visible" placeholders the prompts ask for.
func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case float64:
		return v == 0
	case int:
		return v == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case []any:
		lines := make([]string, 0, len(v))
		for _, item := range v {
			if s := formatValue(item); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		if stat, ok := v["stat"]; ok {
			return strings.TrimSpace(formatValue(stat) + " " + formatValue(v["value"]))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func listOf(value any, each func(map[string]any) string) string {
	items, _ := value.([]any)
	lines := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if line := each(m); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// formatPassives renders "[Party] Atk +12%" lines.
func formatPassives(value any) string {
	return listOf(value, func(m map[string]any) string {
		line := fmt.Sprintf("%s +%s%%", formatValue(m["stat"]), formatValue(m["value"]))
		if party, _ := m["affects_party"].(bool); party {
			line = "[Party] " + line
		}
		return line
	})
}

// formatOptions renders weapon options as a fixed value or a range.
func formatOptions(value any) string {
	return listOf(value, func(m map[string]any) string {
		stat := formatValue(m["stat"])
		if ranged, _ := m["is_range"].(bool); ranged {
			return fmt.Sprintf("%s %s - %s", stat, formatValue(m["minimum_value"]), formatValue(m["maximum_value"]))
		}
		return fmt.Sprintf("%s %s", stat, formatValue(m["value"]))
	})
}
