// Package thinking splits a streamed model output into visible content and
// delimited "thinking" sections. Delimiters may be split across fragments at
// any byte boundary; the Segmenter buffers just enough text to decide.
package thinking

import "strings"

// Tags are the literal open/close delimiters of a section.
type Tags struct {
	Open  string
	Close string
}

// DefaultTags are the delimiters emitted by reasoning models such as Qwen 3.
var DefaultTags = Tags{Open: "<think>", Close: "</think>"}

// State is the segmenter's position relative to a section.
type State int

const (
	Idle State = iota
	BufferingOpenTag
	InThinking
	BufferingCloseTag
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case BufferingOpenTag:
		return "buffering_open_tag"
	case InThinking:
		return "in_thinking"
	case BufferingCloseTag:
		return "buffering_close_tag"
	default:
		return "unknown"
	}
}

// Kind classifies an Output.
type Kind int

const (
	KindToken Kind = iota
	KindThinkingStart
	KindThinkingChunk
	KindThinkingEnd
)

// Output is one classified piece of the stream. Text is the visible text for
// KindToken, the section text for KindThinkingChunk, and the full section
// content for KindThinkingEnd. It is empty for KindThinkingStart.
type Output struct {
	Kind Kind
	Text string
}

// Segmenter is an incremental parser over text fragments. It is not safe for
// concurrent use; one instance serves one generation pass.
type Segmenter struct {
	tags    Tags
	state   State
	pending string          // held-back suffix that may start a delimiter
	acc     strings.Builder // content of the current section
}

// New returns a Segmenter for the given delimiters. It panics if either tag
// is empty.
func New(tags Tags) *Segmenter {
	if tags.Open == "" || tags.Close == "" {
		panic("thinking: empty delimiter")
	}
	return &Segmenter{tags: tags}
}

// State reports the current state.
func (s *Segmenter) State() State { return s.state }

// Process consumes the next fragment and returns the outputs it completes.
func (s *Segmenter) Process(fragment string) []Output {
	if fragment == "" {
		return nil
	}
	text := s.pending + fragment
	s.pending = ""
	var out []Output
	for text != "" {
		switch s.state {
		case Idle, BufferingOpenTag:
			if i := strings.Index(text, s.tags.Open); i >= 0 {
				out = appendToken(out, text[:i])
				out = append(out, Output{Kind: KindThinkingStart})
				s.acc.Reset()
				s.state = InThinking
				text = text[i+len(s.tags.Open):]
				continue
			}
			n := overlap(text, s.tags.Open)
			out = appendToken(out, text[:len(text)-n])
			if n > 0 {
				s.pending = text[len(text)-n:]
				s.state = BufferingOpenTag
			} else {
				s.state = Idle
			}
			text = ""
		case InThinking, BufferingCloseTag:
			if i := strings.Index(text, s.tags.Close); i >= 0 {
				out = s.appendChunk(out, text[:i])
				out = append(out, Output{Kind: KindThinkingEnd, Text: s.acc.String()})
				s.acc.Reset()
				s.state = Idle
				text = text[i+len(s.tags.Close):]
				continue
			}
			n := overlap(text, s.tags.Close)
			out = s.appendChunk(out, text[:len(text)-n])
			if n > 0 {
				s.pending = text[len(text)-n:]
				s.state = BufferingCloseTag
			} else {
				s.state = InThinking
			}
			text = ""
		}
	}
	return out
}

// Flush drains any held-back text and closes an unterminated section. The
// segmenter is Idle afterwards and may be reused.
func (s *Segmenter) Flush() []Output {
	var out []Output
	switch s.state {
	case BufferingOpenTag:
		out = appendToken(out, s.pending)
	case BufferingCloseTag:
		out = s.appendChunk(out, s.pending)
		out = append(out, Output{Kind: KindThinkingEnd, Text: s.acc.String()})
	case InThinking:
		out = append(out, Output{Kind: KindThinkingEnd, Text: s.acc.String()})
	}
	s.pending = ""
	s.acc.Reset()
	s.state = Idle
	return out
}

func (s *Segmenter) appendChunk(out []Output, text string) []Output {
	if text == "" {
		return out
	}
	s.acc.WriteString(text)
	return append(out, Output{Kind: KindThinkingChunk, Text: text})
}

func appendToken(out []Output, text string) []Output {
	if text == "" {
		return out
	}
	return append(out, Output{Kind: KindToken, Text: text})
}

// overlap returns the length of the longest suffix of text that is a proper
// prefix of tag. Candidates are tried longest first.
func overlap(text, tag string) int {
	n := len(tag) - 1
	if len(text) < n {
		n = len(text)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}
