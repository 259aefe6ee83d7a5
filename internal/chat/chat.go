// Package chat is the Chat Gateway: a single prompt in, one answer string out.
package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrChatFailure wraps every provider error surfaced by a gateway.
var ErrChatFailure = errors.New("chat failure")

// DefaultTemperature keeps answers close to the supplied context.
const DefaultTemperature = 0.3

// Gateway completes a prompt. Implementations normalize the provider's
// response shape with Normalize before returning.
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Response is a provider reply: either TextResponse or PartsResponse.
type Response interface {
	isResponse()
}

// TextResponse is a reply delivered as a single string.
type TextResponse struct {
	Text string
}

// Part is one typed content part of a multi-part reply.
type Part struct {
	Type string
	Text string
}

// PartsResponse is a reply delivered as a sequence of content parts.
type PartsResponse struct {
	Parts []Part
}

func (TextResponse) isResponse()  {}
func (PartsResponse) isResponse() {}

// Normalize flattens a reply into one string. Parts are concatenated in
// order; parts without text (images, tool calls) contribute nothing.
func Normalize(r Response) string {
	switch v := r.(type) {
	case TextResponse:
		return v.Text
	case PartsResponse:
		var b strings.Builder
		for _, p := range v.Parts {
			b.WriteString(p.Text)
		}
		return b.String()
	default:
		return ""
	}
}
