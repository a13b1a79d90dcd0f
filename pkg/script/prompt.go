package script

import (
	"fmt"
	"strings"

	"github.com/3leaps/quickcast/pkg/podcast"
)

// maxContentChars caps how much article text is sent to the model.
const maxContentChars = 4000

// wordsPerMinute is the speaking rate used for budgets and estimates.
const wordsPerMinute = 150

const systemPrompt = `You are a podcast script writer who creates SHORT, engaging conversational dialogues between two hosts: Sarah and Theo.

Sarah is enthusiastic, curious, and asks insightful questions. She often brings up interesting angles.
Theo is knowledgeable, analytical, and great at explaining complex topics simply. He's warm and engaging.

Your task is to transform articles into BRIEF, natural podcast conversations that:
- Sound like real people talking (use contractions, natural speech patterns)
- Make complex topics accessible and interesting
- Include back-and-forth dialogue with questions, reactions, and insights
- Are CONCISE and focused on the main points only
- Keep each speaker turn relatively short (1-3 sentences max)

Format your output EXACTLY as:
SARAH: [dialogue text]
THEO: [dialogue text]
SARAH: [dialogue text]
...and so on.

Each line should start with either "SARAH:" or "THEO:" followed by their dialogue.`

// userPrompt builds the per-article instruction.
func userPrompt(art *podcast.Article, minutes float64) string {
	content := art.Content
	if r := []rune(content); len(r) > maxContentChars {
		content = string(r[:maxContentChars])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transform the following article into a %s-minute podcast conversation between Sarah and Theo.\n\n", formatMinutes(minutes))
	fmt.Fprintf(&b, "Article Title: %s\n\n", art.Title)
	fmt.Fprintf(&b, "Article Content:\n%s\n\n", content)
	b.WriteString("Instructions:\n")
	b.WriteString("- Keep each line concise (1-2 sentences)\n")
	fmt.Fprintf(&b, "- ~%d words total\n", int(minutes*wordsPerMinute))
	b.WriteString("- Structure:\n")
	b.WriteString("  * Sarah introduces topic\n")
	b.WriteString("  * Discuss 2-3 key points with natural back-and-forth\n")
	b.WriteString("  * Theo wraps up with insights\n")
	b.WriteString("  * Sarah thanks listeners\n\n")
	b.WriteString("Format each line as:\nSARAH: [text]\nTHEO: [text]\n\n")
	b.WriteString("Begin the podcast script:")
	return b.String()
}

func formatMinutes(m float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", m), "0"), ".")
}
