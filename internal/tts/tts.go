// Package tts routes reply text to a speech synthesis backend by
// language. The PlayAI voice only speaks English, so a router walks an
// ordered list of routes and hands the text to the first one that can
// serve it, in MP3 ready for WhatsApp delivery.
package tts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/warelay/internal/lang"
)

// ErrLanguageUnsupported is returned by a Route that cannot speak the
// requested language. The router skips to the next route.
var ErrLanguageUnsupported = errors.New("tts: language unsupported by route")

// Route produces MP3 speech for text in a language.
// A route without credentials returns (nil, nil).
type Route interface {
	Synthesize(ctx context.Context, text string, language lang.Language) ([]byte, error)
}

// Router tries routes in order and returns the first MP3 produced.
type Router struct {
	routes []Route
}

// NewRouter builds a Router. Route order is priority order.
func NewRouter(routes ...Route) *Router {
	return &Router{routes: routes}
}

// Speak synthesizes text, skipping routes that decline the language
// and logging routes that fail outright. (nil, nil) means no route
// could serve the request and the caller should reply in text.
func (r *Router) Speak(ctx context.Context, text string, language lang.Language) ([]byte, error) {
	for _, route := range r.routes {
		audio, err := route.Synthesize(ctx, text, language)
		if err != nil {
			if errors.Is(err, ErrLanguageUnsupported) {
				continue
			}
			slog.Warn("tts route failed, trying next", "language", language, "error", err)
			continue
		}
		if len(audio) > 0 {
			return audio, nil
		}
	}
	return nil, nil
}
