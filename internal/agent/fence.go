package agent

import (
	"strings"

	"github.com/openraccoon/raccoon/pkg/models"
)

// defaultFenceLanguage is reported when an opening fence carries no tag.
const defaultFenceLanguage = "text"

type fenceState int

const (
	fenceOutside fenceState = iota // scanning plain text for an opening fence
	fenceLanguage                  // after ```, reading the tag up to newline
	fenceInside                    // accumulating block body
)

// fenceParser incrementally detects triple-backtick fenced code blocks in
// a token stream. Tokens arrive in arbitrary fragments, so a fence may be
// split across calls; the tick counter carries over. The raw text is never
// withheld from the caller; detection is a side observation.
//
// The block body is everything after the opening fence line's newline and
// before the closing fence. An unclosed fence at stream end yields nothing.
type fenceParser struct {
	state fenceState
	ticks int
	lang  strings.Builder
	code  strings.Builder
}

func newFenceParser() *fenceParser {
	return &fenceParser{}
}

// Feed consumes the next token and returns any code blocks the token
// completed, in stream order.
func (p *fenceParser) Feed(text string) []models.CodeBlockPayload {
	var blocks []models.CodeBlockPayload
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch p.state {
		case fenceOutside:
			if c == '`' {
				p.ticks++
				if p.ticks == 3 {
					p.ticks = 0
					p.lang.Reset()
					p.state = fenceLanguage
				}
			} else {
				p.ticks = 0
			}

		case fenceLanguage:
			if c == '\n' {
				p.code.Reset()
				p.state = fenceInside
			} else {
				p.lang.WriteByte(c)
			}

		case fenceInside:
			if c == '`' {
				p.ticks++
				if p.ticks == 3 {
					p.ticks = 0
					blocks = append(blocks, models.CodeBlockPayload{
						Language: p.language(),
						Code:     p.code.String(),
						Filename: "",
					})
					p.state = fenceOutside
				}
				continue
			}
			// Backticks that turned out not to be a closing fence belong
			// to the body.
			for ; p.ticks > 0; p.ticks-- {
				p.code.WriteByte('`')
			}
			p.code.WriteByte(c)
		}
	}
	return blocks
}

func (p *fenceParser) language() string {
	tag := strings.TrimSpace(p.lang.String())
	if tag == "" {
		return defaultFenceLanguage
	}
	// Tags like "python title=x" reduce to the first word.
	if idx := strings.IndexFunc(tag, func(r rune) bool { return r == ' ' || r == '\t' }); idx > 0 {
		tag = tag[:idx]
	}
	return tag
}
