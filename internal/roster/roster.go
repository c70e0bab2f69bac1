package roster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"arenactl/internal/domain"
)

var (
	ErrInvalidEntry       = errors.New("invalid roster entry")
	ErrInsufficientRoster = errors.New("roster needs at least two agents")
)

// Roster is the ordered, validated agent list for one tournament run.
// Order is significant: it drives pair enumeration and leaderboard tie-breaks.
type Roster struct {
	agents []domain.AgentDescriptor
	index  map[string]int
}

// Parse reads roster records of the form
//
//	id, kind, source, byte, stride, header
//
// one per line. Blank lines and lines starting with '#' are ignored.
func Parse(r io.Reader) (*Roster, error) {
	agents := make([]domain.AgentDescriptor, 0, 8)
	index := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		agent, err := parseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, dup := index[agent.ID]; dup {
			return nil, fmt.Errorf("line %d: %w: duplicate id %q", lineNo, ErrInvalidEntry, agent.ID)
		}
		index[agent.ID] = len(agents)
		agents = append(agents, agent)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	if len(agents) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientRoster, len(agents))
	}
	return &Roster{agents: agents, index: index}, nil
}

// Load parses the roster file at path.
func Load(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func parseEntry(line string) (domain.AgentDescriptor, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: want 6 fields, got %d", ErrInvalidEntry, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id := fields[0]
	if id == "" {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}

	kind := domain.AgentKind(fields[1])
	switch kind {
	case domain.AgentKindBuiltin, domain.AgentKindSource, domain.AgentKindBlob:
	default:
		return domain.AgentDescriptor{}, fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidEntry, fields[1], id)
	}

	source := fields[2]
	if kind != domain.AgentKindBuiltin && source == "" {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: %s kind %s requires a source path", ErrInvalidEntry, id, kind)
	}
	if kind == domain.AgentKindBuiltin && source == "" {
		source = id
	}

	byteVal, err := strconv.ParseUint(fields[3], 0, 8)
	if err != nil {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: %s byte %q: %v", ErrInvalidEntry, id, fields[3], err)
	}
	stride, err := strconv.Atoi(fields[4])
	if err != nil || stride < 0 {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: %s stride %q", ErrInvalidEntry, id, fields[4])
	}
	header, err := strconv.Atoi(fields[5])
	if err != nil || header < 0 {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: %s header %q", ErrInvalidEntry, id, fields[5])
	}

	return domain.AgentDescriptor{
		ID:         id,
		Kind:       kind,
		Source:     source,
		Byte:       uint8(byteVal),
		Stride:     stride,
		HeaderSize: header,
	}, nil
}

// Agents returns the descriptors in roster order. Callers must not mutate
// the returned slice.
func (r *Roster) Agents() []domain.AgentDescriptor {
	return r.agents
}

func (r *Roster) Len() int {
	return len(r.agents)
}

// Get looks up a descriptor by id.
func (r *Roster) Get(id string) (domain.AgentDescriptor, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.AgentDescriptor{}, false
	}
	return r.agents[i], true
}

// Position returns the roster-order index of id, used as the deterministic
// leaderboard tie-break. Unknown ids sort last.
func (r *Roster) Position(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return len(r.agents)
}

// IDs returns agent ids in roster order.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.agents))
	for i, a := range r.agents {
		out[i] = a.ID
	}
	return out
}

// Without returns a copy of the roster with the given ids removed, keeping
// the original order. Used to drop agents whose builds failed.
func (r *Roster) Without(ids map[string]bool) (*Roster, error) {
	if len(ids) == 0 {
		return r, nil
	}
	kept := make([]domain.AgentDescriptor, 0, len(r.agents))
	index := make(map[string]int)
	for _, a := range r.agents {
		if ids[a.ID] {
			continue
		}
		index[a.ID] = len(kept)
		kept = append(kept, a)
	}
	if len(kept) < 2 {
		return nil, fmt.Errorf("%w: %d agents left after build exclusions", ErrInsufficientRoster, len(kept))
	}
	return &Roster{agents: kept, index: index}, nil
}
