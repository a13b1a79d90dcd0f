// Package podcast holds the domain types shared by the generation pipeline:
// scraped articles, host voices and dialogue lines.
package podcast

import (
	"fmt"
	"strings"
)

// Voice identifies one of the two podcast hosts.
type Voice string

const (
	// VoiceSarah is the curious host who introduces topics and asks questions.
	VoiceSarah Voice = "sarah"

	// VoiceTheo is the analytical host who explains and wraps up.
	VoiceTheo Voice = "theo"
)

// Voices lists every supported voice.
var Voices = []Voice{VoiceSarah, VoiceTheo}

// ParseVoice maps a speaker label to a Voice. Matching is case-insensitive.
func ParseVoice(s string) (Voice, error) {
	v := Voice(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown voice %q", s)
	}
	return v, nil
}

// Valid reports whether v is a supported voice.
func (v Voice) Valid() bool {
	return v == VoiceSarah || v == VoiceTheo
}

// String returns the voice name.
func (v Voice) String() string {
	return string(v)
}

// Article is the extracted content of a web page.
type Article struct {
	Title   string `json:"title" yaml:"title"`
	Author  string `json:"author,omitempty" yaml:"author,omitempty"`
	Content string `json:"content" yaml:"content"`
	URL     string `json:"url" yaml:"url"`
}

// Line is one turn of the dialogue script.
type Line struct {
	Speaker Voice  `json:"speaker" yaml:"speaker"`
	Text    string `json:"text" yaml:"text"`
}

// Validate checks that the line names a known voice and carries text.
func (l Line) Validate() error {
	if !l.Speaker.Valid() {
		return fmt.Errorf("unknown voice %q", l.Speaker)
	}
	if strings.TrimSpace(l.Text) == "" {
		return fmt.Errorf("empty text for %s", l.Speaker)
	}
	return nil
}
