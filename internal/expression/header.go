package expression

import (
	"fmt"
	"strings"
)

var groupAliases = map[Group][]string{
	Control:   {"control", "ctrl", "normal", "healthy", "baseline", "wt"},
	Condition: {"condition", "treat", "case", "disease", "tumor", "tumour", "patient", "ko"},
}

// layout maps each sample column (header index minus one) to its group.
type layout struct {
	groups  []Group
	samples []string
}

func (l layout) names(g Group) []string {
	var out []string
	for i, grp := range l.groups {
		if grp == g {
			out = append(out, l.samples[i])
		}
	}
	return out
}

func parseHeader(header []string) (layout, error) {
	if len(header) < 3 {
		return layout{}, &HeaderError{Reason: fmt.Sprintf("expected a gene column and at least two sample columns, got %d columns", len(header))}
	}
	cols := header[1:]
	l := layout{groups: make([]Group, len(cols)), samples: make([]string, len(cols))}

	matched := 0
	firstUnmatched := -1
	for i, raw := range cols {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("sample_%d", i+1)
		}
		g, sample, ok := classifyColumn(name)
		l.samples[i] = sample
		if ok {
			l.groups[i] = g
			matched++
		} else if firstUnmatched < 0 {
			firstUnmatched = i
		}
	}

	switch {
	case matched == 0:
		// No labels: first half control, second half condition.
		half := len(cols) / 2
		for i := range cols {
			if i < half {
				l.groups[i] = Control
			} else {
				l.groups[i] = Condition
			}
		}
	case firstUnmatched >= 0:
		return layout{}, &HeaderError{Reason: fmt.Sprintf("column %q does not name a control or condition group", l.samples[firstUnmatched])}
	}

	for _, g := range []Group{Control, Condition} {
		if len(l.names(g)) == 0 {
			return layout{}, &HeaderError{Reason: fmt.Sprintf("no %s columns", g)}
		}
	}
	return l, nil
}

// classifyColumn resolves "group:sample" headers first, then group-name prefixes.
func classifyColumn(name string) (Group, string, bool) {
	if prefix, sample, found := strings.Cut(name, ":"); found && strings.TrimSpace(sample) != "" {
		if g, ok := groupOf(strings.TrimSpace(prefix)); ok {
			return g, strings.TrimSpace(sample), true
		}
	}
	if g, ok := groupOf(name); ok {
		return g, name, true
	}
	return "", name, false
}

func groupOf(label string) (Group, bool) {
	lower := strings.ToLower(label)
	for _, g := range []Group{Control, Condition} {
		for _, a := range groupAliases[g] {
			if strings.HasPrefix(lower, a) {
				return g, true
			}
		}
	}
	return "", false
}
