package orchestrator

import (
	"regexp"
	"strings"
)

var (
	emotionTag   = regexp.MustCompile(`(?s)<mira:my_emotion>(.*?)</mira:my_emotion>`)
	referenceTag = regexp.MustCompile(`(?s)<mira:referenced_memories>(.*?)</mira:referenced_memories>`)
)

// parsedTags is the result of scanning an assistant response for the
// handful of fixed-name tags the orchestrator understands (§4.9 step 15,
// REDESIGN FLAGS note on dynamic tag parsing). Any other tag passes
// through untouched in CleanText.
type parsedTags struct {
	CleanText          string
	Emotion            string
	ReferencedMemories []string
}

// parseTags extracts `<mira:my_emotion>` (left in place so the frontend can
// render it) and `<mira:referenced_memories>` (stripped; comma-separated
// memory ids). Every other tag, including the unrelated <fingerprint> and
// <memory_retention> tags C7/C8 use internally, is left untouched.
func parseTags(raw string) parsedTags {
	out := parsedTags{CleanText: raw}

	if m := emotionTag.FindStringSubmatch(raw); m != nil {
		out.Emotion = strings.TrimSpace(m[1])
	}

	if m := referenceTag.FindStringSubmatch(out.CleanText); m != nil {
		for _, id := range strings.Split(m[1], ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				out.ReferencedMemories = append(out.ReferencedMemories, id)
			}
		}
		out.CleanText = referenceTag.ReplaceAllString(out.CleanText, "")
	}

	out.CleanText = strings.TrimSpace(out.CleanText)
	return out
}
