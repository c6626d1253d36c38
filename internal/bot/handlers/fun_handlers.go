package handlers

import (
	"context"
	"fmt"

	"github.com/edgard/hyperbot/internal/gemini"
)

var fallbackJokes = []string{
	"Why don't skeletons fight each other? They don't have the guts.",
	"I told my computer I needed a break, and it said it would go to sleep.",
	"Why did the scarecrow win an award? Because he was outstanding in his field.",
}

var fallbackQuotes = []string{
	"The only way to do great work is to love what you do. - Steve Jobs",
	"It always seems impossible until it's done. - Nelson Mandela",
	"In the middle of difficulty lies opportunity. - Albert Einstein",
}

var fallbackFacts = []string{
	"Honey never spoils; edible honey has been found in ancient Egyptian tombs.",
	"Octopuses have three hearts and blue blood.",
	"A day on Venus is longer than its year.",
}

var eightBallAnswers = []string{
	"It is certain.", "Without a doubt.", "Yes, definitely.", "Most likely.",
	"Ask again later.", "Cannot predict now.", "Don't count on it.", "Very doubtful.",
}

var compliments = []string{
	"you light up every chat you join!",
	"your ideas are always worth reading.",
	"you make this group a better place.",
}

var insults = []string{
	"you bring everyone so much joy when you leave the chat.",
	"your secrets are safe with me; I never listen anyway.",
	"you are the human version of a loading screen.",
}

type funHandlers struct {
	deps HandlerDeps
}

func newFunHandlers(deps HandlerDeps) funHandlers {
	return funHandlers{deps: deps}
}

func (h funHandlers) pick(options []string) string {
	return options[h.deps.Intn(len(options))]
}

func (h funHandlers) owner(ctx context.Context, req *Request) error {
	b := h.deps.Config.Branding
	text := fmt.Sprintf("👤 *Bot owner:* %s", b.Owner)
	if b.OwnerNumber != "" {
		text += fmt.Sprintf("\n📞 wa.me/%s", b.OwnerNumber)
	}
	return req.Reply(ctx, text)
}

// generated asks Gemini for a text and falls back to a static one.
func (h funHandlers) generated(ctx context.Context, req *Request, kind gemini.PromptKind, prefix string, fallback []string) error {
	text := ""
	if h.deps.GeminiClient != nil {
		generated, err := h.deps.GeminiClient.Generate(ctx, kind)
		if err != nil {
			h.deps.Logger.WarnContext(ctx, "Text generation failed, using fallback", "handler", string(kind), "error", err)
		} else {
			text = generated
		}
	}
	if text == "" {
		text = h.pick(fallback)
	}
	return req.Reply(ctx, prefix+text)
}

func (h funHandlers) joke(ctx context.Context, req *Request) error {
	return h.generated(ctx, req, gemini.PromptJoke, "😂 ", fallbackJokes)
}

func (h funHandlers) quote(ctx context.Context, req *Request) error {
	return h.generated(ctx, req, gemini.PromptQuote, "💬 ", fallbackQuotes)
}

func (h funHandlers) fact(ctx context.Context, req *Request) error {
	return h.generated(ctx, req, gemini.PromptFact, "🧠 ", fallbackFacts)
}

func (h funHandlers) eightBall(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "🎱 Ask me a question, e.g. .8ball will it rain today?")
	}
	return req.Reply(ctx, "🎱 "+h.pick(eightBallAnswers))
}

func (h funHandlers) aimed(ctx context.Context, req *Request, lines []string) error {
	target := req.Target()
	if target == "" {
		return req.Reply(ctx, h.deps.Config.Messages.MentionRequired)
	}
	return req.Reply(ctx, fmt.Sprintf("%s, %s", mention(target), h.pick(lines)), target)
}

func (h funHandlers) compliment(ctx context.Context, req *Request) error {
	return h.aimed(ctx, req, compliments)
}

func (h funHandlers) insult(ctx context.Context, req *Request) error {
	return h.aimed(ctx, req, insults)
}
