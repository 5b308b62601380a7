package ovhapi

import "regexp"

// Backend error messages may embed an opaque support token of the form
// "OVH-Query-ID: <id>". The token is never parsed, only surfaced so operators
// can quote it in support tickets.
var queryIDPattern = regexp.MustCompile(`OVH-Query-ID:\s*(\S+)`)

// ExtractQueryID returns the embedded query id, if any.
func ExtractQueryID(message string) (string, bool) {
	m := queryIDPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatOperatorError renders a backend error message for display, appending
// the query id when one is embedded. The original message is kept verbatim.
func FormatOperatorError(message string) string {
	id, ok := ExtractQueryID(message)
	if !ok {
		return message
	}
	return message + " · QueryID: " + id
}
