package conversation

import (
	"fmt"
	"strings"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/index"
)

// Mode selects the response style for a conversation turn.
type Mode string

const (
	// ModeText produces full written answers.
	ModeText Mode = "text"
	// ModeVoice produces short answers meant to be read aloud.
	ModeVoice Mode = "voice"
)

const systemPersona = `You are a documentation assistant. You answer questions
using the documentation excerpts provided below. When the excerpts contain the
answer, ground your reply in them and mention which document it came from. When
they do not, say so plainly instead of guessing.`

const voiceInstructions = `Answer in at most three short sentences. Do not use
markdown, lists, or code blocks; the reply will be spoken aloud.`

// BuildPrompt assembles the full model prompt for one turn: persona, mode
// instructions, retrieved documentation with provenance, recent history, and
// the user's message.
func BuildPrompt(mode Mode, chunks []index.Chunk, history []Turn, userText string) string {
	var b strings.Builder
	b.WriteString(systemPersona)
	b.WriteString("\n")

	if mode == ModeVoice {
		b.WriteString("\n")
		b.WriteString(voiceInstructions)
		b.WriteString("\n")
	}

	if len(chunks) > 0 {
		b.WriteString("\n## Documentation excerpts\n")
		for i, c := range chunks {
			fmt.Fprintf(&b, "\n[%d] %s:%s\n%s\n", i+1, c.RepoName, c.FilePath, strings.TrimSpace(c.Content))
		}
	} else {
		b.WriteString("\nNo relevant documentation was found for this question.\n")
	}

	if len(history) > 0 {
		b.WriteString("\n## Conversation so far\n")
		for _, t := range history {
			label := "User"
			if t.Role == RoleAssistant {
				label = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, t.Content)
		}
	}

	b.WriteString("\n## Question\n")
	b.WriteString(userText)
	b.WriteString("\n")
	return b.String()
}

// TitleFromMessage derives a conversation title from its opening message,
// truncated at a word boundary where possible.
func TitleFromMessage(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if len(title) <= TitleMaxLength {
		return title
	}
	cut := title[:TitleMaxLength]
	if i := strings.LastIndexByte(cut, ' '); i > TitleMaxLength/2 {
		cut = cut[:i]
	}
	return cut
}
