// Package sequence parses decoration sequence specs and answers ordering
// questions about them. A sequence spec is a delimited string such as
// "coating_printing_foiling"; the parsed order is the only source of truth
// for which team hands off to which.
package sequence

import "strings"

// Parse converts a sequence spec into an ordered list of team tokens.
// Both `_` and `,` act as separators, tokens are trimmed, empty tokens are
// dropped. Literal order is preserved, including repeated tokens. Absent or
// malformed input yields an empty sequence, never an error: an empty
// sequence means "no ordering constraint".
func Parse(spec string) []string {
	if spec == "" {
		return nil
	}
	parts := strings.FieldsFunc(spec, func(r rune) bool {
		return r == '_' || r == ','
	})
	var seq []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		seq = append(seq, p)
	}
	return seq
}

// Position returns a team's index in the sequence, or -1 when absent.
func Position(seq []string, team string) int {
	for i, t := range seq {
		if t == team {
			return i
		}
	}
	return -1
}

// Previous returns the team immediately before the given one. The second
// return is false when the team is first or not in the sequence.
func Previous(seq []string, team string) (string, bool) {
	i := Position(seq, team)
	if i <= 0 {
		return "", false
	}
	return seq[i-1], true
}

// Next returns the team immediately after the given one. The second return
// is false when the team is last or not in the sequence.
func Next(seq []string, team string) (string, bool) {
	i := Position(seq, team)
	if i == -1 || i >= len(seq)-1 {
		return "", false
	}
	return seq[i+1], true
}

// Join renders a parsed sequence back into canonical underscore form.
func Join(seq []string) string {
	return strings.Join(seq, "_")
}
