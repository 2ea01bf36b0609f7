package config

import (
	"fmt"
	"strings"
)

// Background is the lighting class of a photograph. It selects which
// threshold profile the segmenters use.
type Background int

const (
	Unclassified Background = iota
	Light
	Dark
)

func (b Background) String() string {
	switch b {
	case Light:
		return "light"
	case Dark:
		return "dark"
	default:
		return "unclassified"
	}
}

// ParseBackground resolves a profile key. The empty string and "auto" mean
// the background should be classified from the image.
func ParseBackground(key string) (Background, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", "auto":
		return Unclassified, nil
	case "light", "white":
		return Light, nil
	case "dark", "black":
		return Dark, nil
	default:
		return Unclassified, fmt.Errorf("unknown background key %q", key)
	}
}
