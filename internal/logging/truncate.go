package logging

// MaxLogFieldLength is the maximum length of a string field before truncation
const MaxLogFieldLength = 1000

// Truncate shortens a string for logging, appending "..." when it was cut
func Truncate(s string) string {
	if len(s) <= MaxLogFieldLength {
		return s
	}
	return s[:MaxLogFieldLength] + "..."
}
