package personality

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	FileName    = "PERSONALITY.md"
	DefaultName = "나란잉여"
)

const defaultTemplate = `You are participating in a group chat with multiple people.
You should listen to what others are saying and respond appropriately and intelligently.
Pay attention to the flow of conversation. Your name is "%s".
Use extremely polite and formal language, as if a commoner is speaking to a king.`

// Default returns the built-in system prompt for a bot called name.
func Default(name string) string {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return fmt.Sprintf(defaultTemplate, name)
}

// Resolve prefers a PERSONALITY.md found in the working directory or one of
// its parents and falls back to Default.
func Resolve(name string) string {
	content, err := ReadFromDisk()
	if err != nil || content == "" {
		return Default(name)
	}
	return content
}

func ReadFromDisk() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return readFrom(cwd)
}

func readFrom(dir string) (string, error) {
	path, err := findInParents(dir, FileName)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
