package gemini

// PromptKind names a fun command backed by text generation.
type PromptKind string

const (
	PromptJoke  PromptKind = "joke"
	PromptQuote PromptKind = "quote"
	PromptFact  PromptKind = "fact"
)

// SystemInstruction frames every request as a chat reply.
const SystemInstruction = `You are HyperBot, a friendly assistant in a WhatsApp chat. Reply with the requested text only, in plain language, in at most three short sentences. Use WhatsApp formatting (*bold*, _italic_) sparingly and never add preambles such as "Sure" or "Here is".`

var prompts = map[PromptKind]string{
	PromptJoke:  "Tell one short, clean joke suitable for a group chat.",
	PromptQuote: "Share one inspiring quote from a real, well-known person, followed by the author's name after a dash.",
	PromptFact:  "Share one surprising but true fact about science, nature or history.",
}
