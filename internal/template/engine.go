// Package template implements deterministic caption rewriting: braced
// placeholders over an opaque body, with escape expansion and a fixed
// variable-resolution order.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Mode selects the rendering behavior.
type Mode string

const (
	// ModeOriginal concatenates the original text and caption.
	ModeOriginal Mode = "original"
	// ModeCustom substitutes placeholders in the template body.
	ModeCustom Mode = "custom"
)

// Variable is a template-author value, optionally backed by an extractor
// pattern evaluated against the item's text.
type Variable struct {
	Name             string
	Value            string
	ExtractorPattern string
}

// Config describes one template.
type Config struct {
	Mode      Mode
	Body      string
	Variables []Variable
}

// Validate rejects unusable templates before any rendering happens.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeOriginal:
		return nil
	case ModeCustom:
		if strings.TrimSpace(c.Body) == "" {
			return fmt.Errorf("template validation failed: content required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported template mode: %q", c.Mode)
	}
}

// Item carries the per-download values the engine derives variables from.
type Item struct {
	OriginalText    string
	OriginalCaption string
	FileName        string
	FileSize        int64
	MessageID       int
	ClientName      string
}

var placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Engine renders templates. The clock is injectable so rendering stays
// deterministic under test.
type Engine struct {
	Now func() time.Time
}

// NewEngine creates an engine using the wall clock.
func NewEngine() *Engine { return &Engine{Now: time.Now} }

// Render produces the caption for item. Unknown placeholder names pass
// through literally.
func (e *Engine) Render(cfg Config, item Item, extras map[string]string) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.Mode == ModeOriginal {
		return renderOriginal(item), nil
	}

	vars := e.buildVariables(cfg, item, extras)
	body := ExpandEscapes(cfg.Body)
	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := strings.TrimSpace(match[1 : len(match)-1])
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
	return rendered, nil
}

func renderOriginal(item Item) string {
	parts := make([]string, 0, 2)
	if item.OriginalText != "" {
		parts = append(parts, item.OriginalText)
	}
	if item.OriginalCaption != "" {
		parts = append(parts, item.OriginalCaption)
	}
	return strings.Join(parts, "\n")
}

// buildVariables assembles the variable bag. Later sources override earlier
// ones: derived values, time of render, template statics, caller extras.
func (e *Engine) buildVariables(cfg Config, item Item, extras map[string]string) map[string]string {
	vars := map[string]string{
		"original_text":       item.OriginalText,
		"original_caption":    item.OriginalCaption,
		"file_name":           item.FileName,
		"file_size":           strconv.FormatInt(item.FileSize, 10),
		"file_size_formatted": FormatSize(item.FileSize),
		"message_id":          strconv.Itoa(item.MessageID),
		"client_name":         item.ClientName,
	}

	now := e.Now()
	vars["timestamp"] = strconv.FormatInt(now.Unix(), 10)
	vars["date"] = now.Format("2006-01-02")
	vars["time"] = now.Format("15:04:05")
	vars["datetime"] = now.Format("2006-01-02 15:04:05")

	text := item.OriginalText
	if text == "" {
		text = item.OriginalCaption
	}
	for _, v := range cfg.Variables {
		if v.ExtractorPattern != "" {
			if match, ok := extractFirst(text, v.ExtractorPattern); ok {
				vars[v.Name] = match
				continue
			}
		}
		vars[v.Name] = v.Value
	}

	for k, v := range extras {
		vars[k] = v
	}
	return vars
}

// ExpandEscapes converts the literal sequences \n \t \r \\ in a template body
// into their characters. Done in one pass so "\\n" yields a backslash
// followed by n, not a newline.
func ExpandEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// FormatSize renders a byte count in human units.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
