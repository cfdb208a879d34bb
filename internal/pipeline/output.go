package pipeline

import (
	"strings"
)

// Tags recognized on stage stdout. The external scripts emit exactly one
// `TAG:value` line per signal and may interleave arbitrary diagnostics; this
// line protocol is their only structured channel back to the orchestrator.
const (
	TagFolderPath = "S3_FOLDER_PATH"
	TagJSONFile   = "JSON_FILE_PATH"
	TagReportFile = "REPORT_FILE_PATH"
	TagS3URI      = "S3_URI_PATH"
)

// Extract scans stdout for the first line carrying the given tag and returns
// its trimmed value. The second return is false when no line matches or the
// value is empty.
func Extract(stdout, tag string) (string, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), tag+":")
		if !ok {
			continue
		}
		value := strings.TrimSpace(rest)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}

// ExtractAny tries tags in order and returns the first hit.
func ExtractAny(stdout string, tags ...string) (string, bool) {
	for _, tag := range tags {
		if value, ok := Extract(stdout, tag); ok {
			return value, true
		}
	}
	return "", false
}
