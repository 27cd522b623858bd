package parse

import (
	"bytes"
	"encoding/json"
	"path"
	"regexp"
	"strings"
)

// Artifact kinds, matching the stored artifact kinds.
const (
	KindFile     = "file"
	KindCommit   = "commit"
	KindURL      = "url"
	KindDocument = "document"
	KindImage    = "image"
)

var (
	artifactsHeadingRe = regexp.MustCompile(`(?i)##\s*Artifacts`)
	commitHashRe       = regexp.MustCompile(`\b([0-9a-f]{7,40})\b`)
)

// Artifact is an artifact reference found in task output or tool logs.
type Artifact struct {
	Kind         string
	Location     string
	Description  string
	MetadataJSON string
}

// Artifacts reads the list under the first "## Artifacts" heading. The rest
// of the heading line and blank lines are skipped; the list ends at a line
// starting with "#" or the next Artifacts heading.
func Artifacts(output string) []Artifact {
	locs := artifactsHeadingRe.FindAllStringIndex(output, 2)
	if len(locs) == 0 {
		return nil
	}
	section := output[locs[0][1]:]
	if len(locs) > 1 {
		section = output[locs[0][1]:locs[1][0]]
	}
	lines := strings.Split(section, "\n")[1:]

	var out []Artifact
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			break
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "- "))
		if line == "" {
			continue
		}
		location := strings.Fields(line)[0]
		out = append(out, Artifact{
			Kind:        GuessKind(location),
			Location:    location,
			Description: line,
		})
	}
	return out
}

// GuessKind classifies a location by scheme or extension.
func GuessKind(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return KindURL
	}
	switch strings.ToLower(path.Ext(location)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp":
		return KindImage
	case ".md", ".txt", ".pdf", ".doc", ".docx":
		return KindDocument
	default:
		return KindFile
	}
}

// Commits scans tool-log entries for git commit hashes. An entry qualifies
// when its JSON form mentions "commit" and contains a standalone 7 to 40
// digit lowercase hex token; the first such token is taken as the hash.
func Commits(toolLogs []map[string]any) []Artifact {
	var out []Artifact
	for _, entry := range toolLogs {
		encoded, ok := encodeEntry(entry)
		if !ok || !strings.Contains(strings.ToLower(encoded), "commit") {
			continue
		}
		m := commitHashRe.FindStringSubmatch(encoded)
		if m == nil {
			continue
		}
		out = append(out, Artifact{
			Kind:         KindCommit,
			Location:     m[1],
			Description:  "Git commit detected in tool logs",
			MetadataJSON: encoded,
		})
	}
	return out
}

func encodeEntry(entry map[string]any) (string, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return "", false
	}
	return strings.TrimRight(buf.String(), "\n"), true
}
