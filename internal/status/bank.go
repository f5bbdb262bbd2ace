// Package status holds the agent status message bank: short, dry,
// developer-humor progress lines grouped by activity category, with
// no-repeat rotation.
package status

import (
	"math/rand"
	"strings"
	"time"
)

// Categories.
const (
	Thinking      = "thinking"
	Coding        = "coding"
	Generating    = "generating"
	Searching     = "searching"
	Deploying     = "deploying"
	ErrorRecovery = "error_recovery"
	ReadingCode   = "reading_code"
)

var thinkingMessages = []string{
	"thinking about this...",
	"untangling your requirements...",
	"consulting the raccoon council...",
	"reading between the lines...",
	"pondering the edge cases...",
	"considering 14 possible approaches, discarding 13...",
	"having a quick existential crisis about types...",
	"contemplating the void...",
	"asking the rubber duck...",
	"thinking raccoon thoughts...",
	"processing at the speed of thought...",
	"one moment, having an existential crisis...",
	"buffering genius...",
}

var codingMessages = []string{
	"writing code that hopefully compiles...",
	"brewing your landing page...",
	"refactoring things you didn't ask me to refactor...",
	"adding semicolons in all the right places...",
	"building something with unreasonable attention to detail...",
	"reading your spaghetti code... trying not to judge...",
	"deleting my first attempt. you'll never know.",
	"arguing with the linter...",
	"writing code at 3am energy...",
	"refactoring reality...",
	"debugging the matrix...",
	"compiling thoughts...",
	"stack overflowing gracefully...",
	"git committing to the cause...",
}

var generatingMessages = []string{
	"drafting something worth reading...",
	"choosing words carefully...",
	"writing, rewriting, re-rewriting...",
	"making your bullet points bulletproof...",
	"turning caffeine into documentation...",
	"generating prose that doesn't sound like a robot...",
	"assembling pixels...",
	"summoning components...",
	"crafting something beautiful...",
	"weaving HTML with care...",
	"painting with CSS...",
}

var searchingMessages = []string{
	"digging through the internet...",
	"searching for answers in the digital void...",
	"reading docs so you don't have to...",
	"cross-referencing sources like a paranoid librarian...",
	"going down a rabbit hole for you...",
	"asking the hive mind...",
	"raiding the knowledge base...",
	"foraging for answers...",
	"consulting the archives...",
}

var deployingMessages = []string{
	"shipping it...",
	"deploying to prod on a friday. you asked for this.",
	"running your build. fingers crossed.",
	"testing in production like a professional...",
	"pushing to the void and hoping for the best...",
	"watching the CI pipeline like a hawk...",
	"releasing into the wild...",
	"launching to the moon...",
	"pushing pixels to production...",
	"making it live...",
}

var errorRecoveryMessages = []string{
	"hmm, that didn't work. plan B.",
	"retrying with more optimism...",
	"something broke. fixing it before you notice.",
	"the raccoon tripped. getting back up.",
	"adjusting expectations...",
}

var readingCodeMessages = []string{
	"reading your spaghetti code...",
	"parsing the chaos...",
	"judging your variable names...",
	"untangling the dependency graph...",
	"deciphering ancient commit messages...",
	"finding where the bug lives...",
}

var banks = map[string][]string{
	Thinking:      thinkingMessages,
	Coding:        codingMessages,
	Generating:    generatingMessages,
	Searching:     searchingMessages,
	Deploying:     deployingMessages,
	ErrorRecovery: errorRecoveryMessages,
	ReadingCode:   readingCodeMessages,
}

// Bank picks status messages with no-repeat rotation. An instance is scoped
// to a single turn and is not safe for concurrent use.
type Bank struct {
	rng  *rand.Rand
	last string
}

// NewBank returns a bank with its own random source.
func NewBank() *Bank {
	return &Bank{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Pick returns a random message from the category, never repeating the
// previous pick (across categories) unless the category has a single
// message. Unknown categories fall back to thinking.
func (b *Bank) Pick(category string) string {
	messages, ok := banks[category]
	if !ok {
		messages = thinkingMessages
	}

	available := messages
	if b.last != "" {
		filtered := make([]string, 0, len(messages))
		for _, m := range messages {
			if m != b.last {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) > 0 {
			available = filtered
		}
	}

	chosen := available[b.rng.Intn(len(available))]
	b.last = chosen
	return chosen
}

// Categories returns the known category names in stable order.
func Categories() []string {
	return []string{Thinking, Coding, Generating, Searching, Deploying, ErrorRecovery, ReadingCode}
}

// CategoryForTool maps a tool name to the status category announced before
// executing it. Empty means no status is emitted for this tool.
func CategoryForTool(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "search"):
		return Searching
	case strings.Contains(lower, "code"), strings.Contains(lower, "exec"):
		return Coding
	default:
		return ""
	}
}
