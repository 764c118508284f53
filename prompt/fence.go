package prompt

import "strings"

// StripCodeFence removes a surrounding markdown code fence such as
// ```python ... ``` from model output. Text without a leading fence is
// returned trimmed.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[nl+1:]
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ExtractFenced returns the body of the first ```lang block anywhere in text.
// An unterminated block runs to the end of the text.
func ExtractFenced(text, lang string) (string, bool) {
	open := "```" + lang
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}
