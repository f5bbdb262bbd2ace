package agent

import (
	"testing"

	"github.com/openraccoon/raccoon/pkg/models"
)

// feedAll feeds every token and collects the completed blocks.
func feedAll(p *fenceParser, tokens ...string) []models.CodeBlockPayload {
	var blocks []models.CodeBlockPayload
	for _, tok := range tokens {
		blocks = append(blocks, p.Feed(tok)...)
	}
	return blocks
}

func TestFenceParserDetectsSimpleBlock(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p, "```python\n", "print(1)\n", "```\n", "done")

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Language != "python" {
		t.Errorf("Language = %q, want python", blocks[0].Language)
	}
	if blocks[0].Code != "print(1)\n" {
		t.Errorf("Code = %q, want %q", blocks[0].Code, "print(1)\n")
	}
	if blocks[0].Filename != "" {
		t.Errorf("Filename = %q, want empty", blocks[0].Filename)
	}
}

func TestFenceParserBlockCompletesOnClosingToken(t *testing.T) {
	p := newFenceParser()

	if got := p.Feed("```go\n"); len(got) != 0 {
		t.Errorf("opening fence produced %d blocks, want 0", len(got))
	}
	if got := p.Feed("x := 1\n"); len(got) != 0 {
		t.Errorf("body token produced %d blocks, want 0", len(got))
	}
	got := p.Feed("```")
	if len(got) != 1 {
		t.Fatalf("closing fence produced %d blocks, want 1", len(got))
	}
	if got[0].Code != "x := 1\n" {
		t.Errorf("Code = %q, want %q", got[0].Code, "x := 1\n")
	}
}

func TestFenceParserSplitFences(t *testing.T) {
	p := newFenceParser()
	// Both fences arrive broken across token boundaries, as streaming
	// providers routinely do.
	blocks := feedAll(p, "`", "``py", "thon\nprint(2)\n`", "`", "`")

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Language != "python" {
		t.Errorf("Language = %q, want python", blocks[0].Language)
	}
	if blocks[0].Code != "print(2)\n" {
		t.Errorf("Code = %q, want %q", blocks[0].Code, "print(2)\n")
	}
}

func TestFenceParserEmptyTagDefaultsToText(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p, "```\nplain\n```")

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Language != defaultFenceLanguage {
		t.Errorf("Language = %q, want %q", blocks[0].Language, defaultFenceLanguage)
	}
}

func TestFenceParserUnclosedFenceYieldsNothing(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p, "```sh\necho hi\n", "and the stream ends")

	if len(blocks) != 0 {
		t.Errorf("got %d blocks, want 0 for an unclosed fence", len(blocks))
	}
}

func TestFenceParserMultipleBlocks(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p,
		"first:\n```go\na\n```\n",
		"between\n",
		"```rust\nb\n```",
	)

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Language != "go" || blocks[0].Code != "a\n" {
		t.Errorf("block[0] = %+v", blocks[0])
	}
	if blocks[1].Language != "rust" || blocks[1].Code != "b\n" {
		t.Errorf("block[1] = %+v", blocks[1])
	}
}

func TestFenceParserPartialBackticksInBody(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p, "```js\nconst s = `tpl`;\n``", " not a fence\n```")

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	want := "const s = `tpl`;\n`` not a fence\n"
	if blocks[0].Code != want {
		t.Errorf("Code = %q, want %q", blocks[0].Code, want)
	}
}

func TestFenceParserInlineBackticksOutsideBlock(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p, "use `fmt` and ``x`` freely\n")

	if len(blocks) != 0 {
		t.Errorf("got %d blocks, want 0 for inline code spans", len(blocks))
	}
}

func TestFenceParserTagWithAttributes(t *testing.T) {
	p := newFenceParser()
	blocks := feedAll(p, "```python title=demo.py\npass\n```")

	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Language != "python" {
		t.Errorf("Language = %q, want python", blocks[0].Language)
	}
}
