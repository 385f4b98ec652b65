// Package storage owns the on-disk downloads/ layout: one sanitized folder
// per source channel, one file per message, duplicates skipped.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"tgmirror/internal/media"
	"tgmirror/pkg/telegramapi"
)

const maxFolderNameLen = 100

var illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Layout resolves paths under the downloads root.
type Layout struct {
	Root string
}

// New creates a layout rooted at dir.
func New(dir string) *Layout { return &Layout{Root: dir} }

// Sanitize replaces illegal filename characters with underscores, trims
// leading/trailing dots and spaces and caps the length in runes, so
// non-ASCII channel titles are never cut mid-character.
func Sanitize(name string, maxLen int) string {
	safe := illegalChars.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, ". ")
	if maxLen > 0 && utf8.RuneCountInString(safe) > maxLen {
		runes := []rune(safe)
		ext := filepath.Ext(safe)
		if extLen := utf8.RuneCountInString(ext); extLen < maxLen {
			safe = string(runes[:maxLen-extLen]) + ext
		} else {
			safe = string(runes[:maxLen])
		}
	}
	if safe == "" {
		safe = "unnamed"
	}
	return safe
}

// FolderFor derives the per-channel folder name: sanitized "@handle-title".
func (l *Layout) FolderFor(chat *telegramapi.Chat) string {
	name := chat.Title
	if chat.Username != "" {
		name = "@" + chat.Username + "-" + chat.Title
	}
	if strings.Trim(name, ". ") == "" {
		name = fmt.Sprintf("channel_%d", chat.ID)
	}
	return Sanitize(name, maxFolderNameLen)
}

// EnsureDir creates the channel folder and returns its absolute path.
func (l *Layout) EnsureDir(folder string) (string, error) {
	dir := filepath.Join(l.Root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory %s: %w", dir, err)
	}
	return dir, nil
}

// FileName builds "<message-id>_<original-or-generated>.<ext>" for a message.
func FileName(msg telegramapi.Message) string {
	if msg.Media == nil {
		return fmt.Sprintf("%d.txt", msg.ID)
	}
	if msg.Media.FileName != "" {
		return fmt.Sprintf("%d_%s", msg.ID, Sanitize(msg.Media.FileName, maxFolderNameLen))
	}
	info := media.Lookup(msg.Media.Kind)
	ext := media.ExtensionFor(msg.Media.Kind, msg.Media.MimeType)
	short := uuid.NewString()[:8]
	return fmt.Sprintf("%d_%s_%s%s", msg.ID, info.NamePrefix, short, ext)
}

// PathFor returns the destination path for a message and whether a file with
// the same message id already exists (existing files are never overwritten).
func (l *Layout) PathFor(folder string, msg telegramapi.Message) (path string, exists bool) {
	dir := filepath.Join(l.Root, folder)
	prefix := fmt.Sprintf("%d_", msg.ID)
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
				return filepath.Join(dir, e.Name()), true
			}
		}
	}
	return filepath.Join(dir, FileName(msg)), false
}

// TempPath returns the in-progress path for a download destination.
func TempPath(final string) string { return final + ".part" }
