package prompt

import (
	"strings"
)

// DirectPlaceholder is the user-role text sent alongside an inlined prompt. The actual question is part of
// the system text in that mode.
const DirectPlaceholder = "The user asked a question. Answer it."

// DefaultPersona is used when no persona file is configured or found.
const DefaultPersona = `You are an expert in behavioral psychology, persuasion and influence.
Your task is to help users understand and apply the principles of behavioral psychology
to reach their goals in communication and interaction with people.`

// DefaultMarkers are the internal naming prefixes that must never reach the end user.
var DefaultMarkers = []string{"B1C_"}

const confidentialityRule = `Important: never mention internal prefixes, file names, configuration markers or other ` +
	`technical details in answers to the user. Use the knowledge base to form expert answers.`

// Prompt is the outbound request payload for one user message.
type Prompt struct {
	// System holds the persona, the reference context and the content rules.
	System string
	// Message is the literal user message.
	Message string
}

// Inline renders the prompt as a single text with the user message embedded, for backends that receive the
// whole prompt in the system role.
func (p Prompt) Inline() string {
	var sb strings.Builder
	sb.WriteString(p.System)
	sb.WriteString("\n\nUser: ")
	sb.WriteString(p.Message)
	sb.WriteString("\n\nAssistant:")
	return sb.String()
}

// Assembler combines static context with the latest user message.
type Assembler struct {
	persona   string
	knowledge string
	system    string
}

// NewAssembler builds an Assembler. Every marker is stripped from the persona and the reference context at
// construction time, so Assemble only concatenates.
func NewAssembler(persona string, knowledge Knowledge, markers []string) *Assembler {
	pairs := make([]string, 0, len(markers)*2)
	for _, m := range markers {
		if m == "" {
			continue
		}
		pairs = append(pairs, m, "")
	}
	strip := strings.NewReplacer(pairs...)

	a := &Assembler{
		persona:   strings.TrimSpace(strip.Replace(persona)),
		knowledge: strings.TrimSpace(strip.Replace(knowledge.Text())),
	}

	var sb strings.Builder
	sb.WriteString("System prompt:\n")
	sb.WriteString(a.persona)
	if a.knowledge != "" {
		sb.WriteString("\n\nKnowledge base:\n")
		sb.WriteString(a.knowledge)
	}
	sb.WriteString("\n\n")
	sb.WriteString(confidentialityRule)
	a.system = sb.String()

	return a
}

// Assemble returns the prompt for message.
func (a *Assembler) Assemble(message string) Prompt {
	return Prompt{
		System:  a.system,
		Message: message,
	}
}

// Ready reports whether both the persona and the reference context are present.
func (a *Assembler) Ready() bool {
	return a.persona != "" && a.knowledge != ""
}
