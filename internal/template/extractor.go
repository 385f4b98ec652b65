package template

import (
	"regexp"
	"sort"
	"strings"
)

// Predefined extractor classes, used to suggest variables to a template
// author. They do not enter the rendering path unless wired through a
// Variable's ExtractorPattern.
var predefinedPatterns = map[string]string{
	"hashtag": `#[\p{L}\d_]+`,
	"mention": `@[A-Za-z\d_]{3,}`,
	"url":     `https?://[^\s]+`,
	"email":   `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	"phone":   `\+?\d[\d\s\-()]{7,}\d`,
	"number":  `\d+(?:\.\d+)?`,
	"price":   `[$€£¥]\s?\d+(?:[.,]\d+)?`,
}

var patternDescriptions = map[string]string{
	"hashtag": "hashtags in the text",
	"mention": "user or channel mentions",
	"url":     "links",
	"email":   "email addresses",
	"phone":   "phone numbers",
	"number":  "plain numbers",
	"price":   "currency amounts",
}

// Suggestion is one proposed variable for a template author.
type Suggestion struct {
	Name        string
	Pattern     string
	Description string
	Samples     []string
}

// Extract runs every predefined class over text. For each class that matched,
// the result holds the first match under the class name and all matches under
// "<name>_all".
func Extract(text string) map[string]string {
	out := make(map[string]string)
	for name, pattern := range predefinedPatterns {
		matches := extractAll(text, pattern)
		if len(matches) == 0 {
			continue
		}
		out[name] = matches[0]
		out[name+"_all"] = strings.Join(matches, ", ")
	}
	return out
}

// Suggest proposes up to max variables for the given text, ordered by class
// name for stable output.
func Suggest(text string, max int) []Suggestion {
	names := make([]string, 0, len(predefinedPatterns))
	for name := range predefinedPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Suggestion, 0, max)
	for _, name := range names {
		if len(out) >= max {
			break
		}
		matches := extractAll(text, predefinedPatterns[name])
		if len(matches) == 0 {
			continue
		}
		if len(matches) > 3 {
			matches = matches[:3]
		}
		out = append(out, Suggestion{
			Name:        name,
			Pattern:     predefinedPatterns[name],
			Description: patternDescriptions[name],
			Samples:     matches,
		})
	}
	return out
}

func extractFirst(text, pattern string) (string, bool) {
	matches := extractAll(text, pattern)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func extractAll(text, pattern string) []string {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re.FindAllString(text, -1)
}
