package roster

import (
	"errors"
	"strings"
	"testing"

	"arenactl/internal/domain"
)

func TestParseRoster(t *testing.T) {
	input := `
# builtins ship inside the engine
runner, builtin, , 0x99, 64, 0
writer, builtin, , 0x99, 64, 0

hunter, asm, agents/hunter.asm, 0x41, 32, 16
champ, blob, prebuilt/champ.blob, 0, 0, 8
`
	r, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse roster: %v", err)
	}
	if r.Len() != 4 {
		t.Fatalf("len=%d want=4", r.Len())
	}

	hunter, ok := r.Get("hunter")
	if !ok {
		t.Fatalf("expected hunter in roster")
	}
	if hunter.Kind != domain.AgentKindSource {
		t.Fatalf("kind=%s want=%s", hunter.Kind, domain.AgentKindSource)
	}
	if hunter.Byte != 0x41 || hunter.Stride != 32 || hunter.HeaderSize != 16 {
		t.Fatalf("unexpected build params: %+v", hunter)
	}

	// builtin source defaults to the agent id
	runner, _ := r.Get("runner")
	if runner.Source != "runner" {
		t.Fatalf("builtin source=%q want=runner", runner.Source)
	}

	if got := r.Position("writer"); got != 1 {
		t.Fatalf("position=%d want=1", got)
	}
	if got := r.Position("nobody"); got != 4 {
		t.Fatalf("unknown id position=%d want=4", got)
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse(strings.NewReader("x, python, x.py, 0, 0, 0\ny, builtin, , 0, 0, 0\n"))
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err=%v want ErrInvalidEntry", err)
	}
}

func TestParseRejectsDuplicateID(t *testing.T) {
	_, err := Parse(strings.NewReader("x, builtin, , 0, 0, 0\nx, builtin, , 0, 0, 0\n"))
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err=%v want ErrInvalidEntry", err)
	}
}

func TestParseRejectsSingleAgent(t *testing.T) {
	_, err := Parse(strings.NewReader("only, builtin, , 0, 0, 0\n"))
	if !errors.Is(err, ErrInsufficientRoster) {
		t.Fatalf("err=%v want ErrInsufficientRoster", err)
	}
}

func TestParseRejectsAsmEntryWithoutPath(t *testing.T) {
	_, err := Parse(strings.NewReader("x, asm, , 0, 0, 0\ny, builtin, , 0, 0, 0\n"))
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err=%v want ErrInvalidEntry", err)
	}
}

func TestWithoutDropsAgentsAndKeepsOrder(t *testing.T) {
	input := "a, builtin, , 0, 0, 0\nb, builtin, , 0, 0, 0\nc, builtin, , 0, 0, 0\n"
	r, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse roster: %v", err)
	}

	trimmed, err := r.Without(map[string]bool{"b": true})
	if err != nil {
		t.Fatalf("without: %v", err)
	}
	ids := trimmed.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("ids=%v want=[a c]", ids)
	}
	if got := trimmed.Position("c"); got != 1 {
		t.Fatalf("position=%d want=1", got)
	}

	if _, err := r.Without(map[string]bool{"a": true, "b": true}); !errors.Is(err, ErrInsufficientRoster) {
		t.Fatalf("err=%v want ErrInsufficientRoster", err)
	}
}
