package script

import (
	"math"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/3leaps/quickcast/pkg/podcast"
)

// ErrNoDialogue is returned when model output contains no speaker lines.
var ErrNoDialogue = errors.New("failed to parse dialogue from model response")

var linePattern = regexp.MustCompile(`(?i)^(SARAH|THEO):\s*(.+)$`)

// ParseDialogue extracts "SPEAKER: text" lines. Lines without a known
// speaker prefix are ignored.
func ParseDialogue(text string) ([]podcast.Line, error) {
	var lines []podcast.Line
	for _, raw := range strings.Split(strings.TrimSpace(text), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		m := linePattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		voice := podcast.VoiceTheo
		if strings.EqualFold(m[1], "sarah") {
			voice = podcast.VoiceSarah
		}
		lines = append(lines, podcast.Line{Speaker: voice, Text: strings.TrimSpace(m[2])})
	}

	if len(lines) == 0 {
		return nil, ErrNoDialogue
	}
	return lines, nil
}

// EstimateDuration returns the spoken length of lines in minutes at 150
// words per minute, rounded to one decimal.
func EstimateDuration(lines []podcast.Line) float64 {
	words := 0
	for _, l := range lines {
		words += len(strings.Fields(l.Text))
	}
	return math.Round(float64(words)/wordsPerMinute*10) / 10
}
