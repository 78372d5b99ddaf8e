package stt

import "strings"

// EndpointPolicy sequences hypotheses into results. Where the endpoint comes
// from is up to the backend (decoder flag or server finality); the policy
// guarantees that partials only change when the text changes, that a final
// clears partial state, and that each endpoint commits at most once. Telling
// a new utterance from a re-delivered one is the backend's job: the decoder
// resets after an endpoint, and Remote drops repeated server segments.
type EndpointPolicy struct {
	partial string
}

// Partial returns a partial result if text differs from the last one emitted.
func (p *EndpointPolicy) Partial(text string) (Result, bool) {
	text = strings.TrimSpace(text)
	if text == "" || text == p.partial {
		return Result{}, false
	}
	p.partial = text
	return Result{Text: text}, true
}

// Final closes the utterance: it commits text and resets partial state. An
// empty final only resets. Identical text in two utterances is two commits.
func (p *EndpointPolicy) Final(text string) (Result, bool) {
	text = strings.TrimSpace(text)
	p.partial = ""
	if text == "" {
		return Result{}, false
	}
	return Result{Text: text, IsFinal: true}, true
}

// Pending is the partial text not yet committed.
func (p *EndpointPolicy) Pending() string {
	return p.partial
}
