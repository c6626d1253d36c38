package handlers

import "context"

// HandlerFunc runs a command. A returned error is logged by the router and
// answered with the generic error message.
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// RegisteredHandler represents a command handler with its middleware.
type RegisteredHandler struct {
	Handler    HandlerFunc
	Middleware []Middleware
}

// Wrap applies the middleware so that the first one listed runs first.
func (h RegisteredHandler) Wrap() HandlerFunc {
	fn := h.Handler
	for i := len(h.Middleware) - 1; i >= 0; i-- {
		fn = h.Middleware[i](fn)
	}
	return fn
}

// RegisterAllCommands initializes and returns a map of all available commands
// keyed by command token.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	help := RegisteredHandler{Handler: NewHelpHandler(deps)}
	for _, cmd := range []string{".help", ".menu", ".bot", ".list"} {
		handlers[cmd] = help
	}

	fun := newFunHandlers(deps)
	handlers[".owner"] = RegisteredHandler{Handler: fun.owner}
	handlers[".joke"] = RegisteredHandler{Handler: fun.joke}
	handlers[".quote"] = RegisteredHandler{Handler: fun.quote}
	handlers[".fact"] = RegisteredHandler{Handler: fun.fact}
	handlers[".8ball"] = RegisteredHandler{Handler: fun.eightBall}
	handlers[".compliment"] = RegisteredHandler{Handler: fun.compliment}
	handlers[".insult"] = RegisteredHandler{Handler: fun.insult}

	// Bot and sender privileges of .ban, .promote, .demote, .mute and .unmute
	// are checked by the router before dispatch.
	admin := newAdminHandlers(deps)
	groupOnly := []Middleware{GroupOnly(deps)}
	senderAdmin := []Middleware{GroupOnly(deps), SenderAdminOnly(deps)}

	handlers[".ban"] = RegisteredHandler{Handler: admin.remove, Middleware: groupOnly}
	handlers[".promote"] = RegisteredHandler{Handler: admin.promote, Middleware: groupOnly}
	handlers[".demote"] = RegisteredHandler{Handler: admin.demote, Middleware: groupOnly}
	handlers[".mute"] = RegisteredHandler{Handler: admin.mute, Middleware: groupOnly}
	handlers[".unmute"] = RegisteredHandler{Handler: admin.unmute, Middleware: groupOnly}
	handlers[".kick"] = RegisteredHandler{Handler: admin.remove, Middleware: senderAdmin}
	handlers[".delete"] = RegisteredHandler{Handler: admin.deleteQuoted, Middleware: senderAdmin}
	handlers[".del"] = handlers[".delete"]
	handlers[".warn"] = RegisteredHandler{Handler: admin.warn, Middleware: senderAdmin}
	handlers[".warnings"] = RegisteredHandler{Handler: admin.warnings, Middleware: groupOnly}
	handlers[".antilink"] = RegisteredHandler{Handler: admin.antilink, Middleware: senderAdmin}
	handlers[".clear"] = RegisteredHandler{Handler: admin.clearWarnings, Middleware: senderAdmin}
	handlers[".tag"] = RegisteredHandler{Handler: admin.tag, Middleware: groupOnly}
	handlers[".tagall"] = RegisteredHandler{Handler: admin.tagAll, Middleware: groupOnly}

	return handlers
}
