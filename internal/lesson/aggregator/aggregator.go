// Package aggregator demultiplexes a delta stream into visible and reasoning
// text.
//
// Deltas on the reasoning channel are always reasoning. Content deltas are
// walked by a two-state machine that recognises a <thinking>...</thinking>
// bracket, possibly split across deltas. Content is attributed to the current
// state as soon as it arrives; when a tag completes, the text from the tag
// onwards is reclassified, so a partial "<thin" that was briefly visible moves
// to reasoning once the tag is confirmed.
package aggregator

import (
	"bytes"
	"strings"

	"github.com/yungbote/lessonstream/internal/lesson/textsource"
)

const (
	OpenTag  = "<thinking>"
	CloseTag = "</thinking>"
)

type Class int

const (
	Visible Class = iota
	Reasoning
)

func (c Class) String() string {
	if c == Reasoning {
		return "reasoning"
	}
	return "visible"
}

type Channel int

const (
	ContentChannel Channel = iota
	ReasoningChannel
)

// Segment is a run of arrived text with the class it ended up in.
type Segment struct {
	Channel Channel
	Class   Class
	Text    string
}

// Update carries the reasoning text that became known during one call, tags
// excluded, for the thinking side channel.
type Update struct {
	Thinking string
}

type walkerState int

const (
	stateVisible walkerState = iota
	stateThinking
)

type entry struct {
	channel    Channel
	start, end int    // content channel range
	text       string // reasoning channel text
}

type mark struct {
	pos   int
	class Class
}

type Aggregator struct {
	content []byte
	log     []entry
	marks   []mark

	state    walkerState
	scanFrom int
	// rep is the content offset up to which thinking text has been reported.
	rep int

	thinking     strings.Builder
	unterminated bool
	finished     bool
}

func New() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Push(d textsource.Delta) Update {
	var up strings.Builder
	if d.Reasoning != "" {
		a.log = append(a.log, entry{channel: ReasoningChannel, text: d.Reasoning})
		up.WriteString(d.Reasoning)
	}
	if d.Content != "" {
		start := len(a.content)
		a.content = append(a.content, d.Content...)
		a.log = append(a.log, entry{channel: ContentChannel, start: start, end: len(a.content)})
		a.walk(&up)
	}
	a.thinking.WriteString(up.String())
	return Update{Thinking: up.String()}
}

func (a *Aggregator) walk(up *strings.Builder) {
	for {
		rest := a.content[a.scanFrom:]
		switch a.state {
		case stateVisible:
			if i := bytes.Index(rest, []byte(OpenTag)); i >= 0 {
				p := a.scanFrom + i
				a.marks = append(a.marks, mark{pos: p, class: Reasoning})
				a.state = stateThinking
				a.scanFrom = p + len(OpenTag)
				a.rep = a.scanFrom
				continue
			}
			a.scanFrom = len(a.content) - partialSuffix(rest, OpenTag)
			return
		case stateThinking:
			if i := bytes.Index(rest, []byte(CloseTag)); i >= 0 {
				p := a.scanFrom + i
				up.Write(a.content[a.rep:p])
				a.marks = append(a.marks, mark{pos: p + len(CloseTag), class: Visible})
				a.state = stateVisible
				a.scanFrom = p + len(CloseTag)
				a.rep = a.scanFrom
				continue
			}
			safe := len(a.content) - partialSuffix(rest, CloseTag)
			up.Write(a.content[a.rep:safe])
			a.rep, a.scanFrom = safe, safe
			return
		}
	}
}

// partialSuffix returns the length of the longest proper prefix of tag that s
// ends with.
func partialSuffix(s []byte, tag string) int {
	n := len(tag) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if bytes.HasSuffix(s, []byte(tag[:n])) {
			return n
		}
	}
	return 0
}

// Finish ends the stream. A bracket still open leaves its text in reasoning
// and marks the aggregation unterminated.
func (a *Aggregator) Finish() Update {
	if a.finished {
		return Update{}
	}
	a.finished = true
	if a.state != stateThinking {
		return Update{}
	}
	a.unterminated = true
	tail := string(a.content[a.rep:])
	a.rep = len(a.content)
	a.thinking.WriteString(tail)
	return Update{Thinking: tail}
}

func (a *Aggregator) Unterminated() bool { return a.unterminated }

// Thinking is all reasoning reported so far, tags excluded.
func (a *Aggregator) Thinking() string { return a.thinking.String() }

func (a *Aggregator) Segments() []Segment {
	var out []Segment
	for _, e := range a.log {
		if e.channel == ReasoningChannel {
			out = append(out, Segment{Channel: ReasoningChannel, Class: Reasoning, Text: e.text})
			continue
		}
		pos := e.start
		for pos < e.end {
			cls, next := a.classAt(pos)
			if next > e.end {
				next = e.end
			}
			out = append(out, Segment{Channel: ContentChannel, Class: cls, Text: string(a.content[pos:next])})
			pos = next
		}
	}
	return out
}

// classAt returns the class at content offset pos and the offset of the next
// class change.
func (a *Aggregator) classAt(pos int) (Class, int) {
	cls, next := Visible, len(a.content)
	for _, m := range a.marks {
		if m.pos <= pos {
			cls = m.class
			continue
		}
		next = m.pos
		break
	}
	return cls, next
}

func (a *Aggregator) Visible() string {
	var b strings.Builder
	for _, s := range a.Segments() {
		if s.Class == Visible {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Reasoning includes bracket tags found in the content channel.
func (a *Aggregator) Reasoning() string {
	var b strings.Builder
	for _, s := range a.Segments() {
		if s.Class == Reasoning {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Raw is every delta in arrival order.
func (a *Aggregator) Raw() string {
	var b strings.Builder
	for _, e := range a.log {
		if e.channel == ReasoningChannel {
			b.WriteString(e.text)
		} else {
			b.Write(a.content[e.start:e.end])
		}
	}
	return b.String()
}
