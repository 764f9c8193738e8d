package streaming

import "strings"

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// Segment is a run of text attributed to either the answer or the
// model's thinking.
type Segment struct {
	Thinking bool
	Text     string
}

// TagSplitter separates inline <think>...</think> spans from answer
// text across chunk boundaries. A chunk ending in a partial tag is
// held back until the next chunk resolves it, so a tag split across
// two chunks is never emitted as literal text.
type TagSplitter struct {
	inThink bool
	pending string
}

// NewTagSplitter returns a splitter starting outside a thinking span.
func NewTagSplitter() *TagSplitter {
	return &TagSplitter{}
}

// Write consumes the next chunk and returns the fully resolved
// segments, in order. The returned slice may be empty when the whole
// chunk is held back as a possible partial tag.
func (s *TagSplitter) Write(chunk string) []Segment {
	data := s.pending + chunk
	s.pending = ""

	var out []Segment
	for {
		tag := thinkOpenTag
		if s.inThink {
			tag = thinkCloseTag
		}

		idx := strings.Index(data, tag)
		if idx < 0 {
			break
		}
		if idx > 0 {
			out = append(out, Segment{Thinking: s.inThink, Text: data[:idx]})
		}
		s.inThink = !s.inThink
		data = data[idx+len(tag):]
	}

	if hold := partialTagSuffix(data, s.inThink); hold > 0 {
		s.pending = data[len(data)-hold:]
		data = data[:len(data)-hold]
	}
	if data != "" {
		out = append(out, Segment{Thinking: s.inThink, Text: data})
	}
	return out
}

// Flush releases any held-back partial tag as literal text in the
// current mode. Call it once the stream ends.
func (s *TagSplitter) Flush() []Segment {
	if s.pending == "" {
		return nil
	}
	seg := Segment{Thinking: s.inThink, Text: s.pending}
	s.pending = ""
	return []Segment{seg}
}

// partialTagSuffix returns the length of the longest suffix of data
// that is a proper prefix of the tag expected in the current state.
func partialTagSuffix(data string, inThink bool) int {
	tag := thinkOpenTag
	if inThink {
		tag = thinkCloseTag
	}
	max := len(tag) - 1
	if len(data) < max {
		max = len(data)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(data, tag[:l]) {
			return l
		}
	}
	return 0
}
