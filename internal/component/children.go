package component

import "strings"

// mergeStringChildren joins adjacent string children and then splits
// them back out one entry per line, so the whitespace rules below can
// treat each line individually.
func mergeStringChildren(children []any) []any {
	var merged []any
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		lines := strings.Split(current.String(), "\n")
		// a trailing newline is not an extra line
		if len(lines) > 1 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			merged = append(merged, line)
		}
		current.Reset()
	}
	for _, child := range children {
		if s, ok := child.(string); ok {
			current.WriteString(s)
			continue
		}
		flush()
		merged = append(merged, child)
	}
	flush()
	return merged
}

// NormalizeChildren reduces string children to match JSX whitespace
// behaviour:
//
//   - whitespace at the beginning and end of a line is removed
//   - blank lines are removed
//   - new lines adjacent to components are removed
//   - new lines in the middle of string literals condense to a single
//     space
//
// Components pass through untouched.
func NormalizeChildren(children []any) []any {
	children = mergeStringChildren(children)
	var processed []any
	currentStr := ""
	for i, item := range children {
		s, isStr := item.(string)
		if !isStr {
			if currentStr != "" {
				processed = append(processed, currentStr)
				currentStr = ""
			}
			processed = append(processed, item)
			continue
		}
		if i > 0 {
			if _, prevIsStr := children[i-1].(string); prevIsStr {
				s = strings.TrimLeft(s, " \t\r\f\v")
			}
		}
		if i+1 < len(children) {
			if _, nextIsStr := children[i+1].(string); nextIsStr {
				s = strings.TrimRight(s, " \t\r\f\v")
			}
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		if currentStr != "" {
			currentStr += " " + s
		} else {
			currentStr = s
		}
	}
	if currentStr != "" {
		processed = append(processed, currentStr)
	}
	return processed
}
