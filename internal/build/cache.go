package build

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"arenactl/internal/domain"
)

// Compiler produces a position-specialized binary from agent source.
type Compiler interface {
	Compile(ctx context.Context, sourcePath, outPath string, entryOffset int, agent domain.AgentDescriptor) error
}

// CLICompiler shells out to the external assembler.
type CLICompiler struct {
	Binary string
}

func (c CLICompiler) Compile(ctx context.Context, sourcePath, outPath string, entryOffset int, agent domain.AgentDescriptor) error {
	args := []string{
		sourcePath,
		outPath,
		"--entry", strconv.Itoa(entryOffset),
		"--name", agent.ID,
		"--byte", fmt.Sprintf("0x%02x", agent.Byte),
		"--stride", strconv.Itoa(agent.Stride),
	}
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("assembler failed: %w; output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Artifact is one validated, position-specialized binary.
type Artifact struct {
	Path string
	Size int64
}

type key struct {
	agentID  string
	position domain.SpawnPosition
}

// Cache builds and memoizes binaries per (agent, spawn position). The build
// phase runs to completion before any match dispatches, so lookups during the
// concurrent phase are read-only and need no locking.
type Cache struct {
	compiler Compiler
	dir      string
	params   domain.MatchParams
	logger   *log.Logger

	artifacts map[key]Artifact
	builds    int
}

func NewCache(compiler Compiler, dir string, params domain.MatchParams, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		compiler:  compiler,
		dir:       dir,
		params:    params,
		logger:    logger,
		artifacts: make(map[key]Artifact),
	}
}

// Builds reports how many compiler invocations the cache has issued.
func (c *Cache) Builds() int {
	return c.builds
}

// Ensure returns the artifact for (agent, position), building it on first use.
// Builtin agents have no artifact; blob agents resolve to their absolute
// path, used verbatim for both positions. Whether a prebuilt blob actually
// tolerates both spawn offsets cannot be verified without executing it; that
// risk stays with the roster author.
func (c *Cache) Ensure(ctx context.Context, agent domain.AgentDescriptor, pos domain.SpawnPosition) (Artifact, error) {
	k := key{agentID: agent.ID, position: pos}
	if art, ok := c.artifacts[k]; ok {
		return art, nil
	}

	switch agent.Kind {
	case domain.AgentKindBuiltin:
		return Artifact{}, fmt.Errorf("builtin agent %s has no build artifact", agent.ID)
	case domain.AgentKindBlob:
		abs, err := filepath.Abs(agent.Source)
		if err != nil {
			return Artifact{}, fmt.Errorf("resolve blob path for %s: %w", agent.ID, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return Artifact{}, fmt.Errorf("stat blob for %s: %w", agent.ID, err)
		}
		art := Artifact{Path: abs, Size: info.Size()}
		c.artifacts[key{agentID: agent.ID, position: domain.PositionA}] = art
		c.artifacts[key{agentID: agent.ID, position: domain.PositionB}] = art
		return art, nil
	case domain.AgentKindSource:
		art, err := c.build(ctx, agent, pos)
		if err != nil {
			return Artifact{}, err
		}
		c.artifacts[k] = art
		return art, nil
	default:
		return Artifact{}, fmt.Errorf("unsupported agent kind %s for %s", agent.Kind, agent.ID)
	}
}

func (c *Cache) build(ctx context.Context, agent domain.AgentDescriptor, pos domain.SpawnPosition) (Artifact, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create build directory: %w", err)
	}
	outPath := filepath.Join(c.dir, fmt.Sprintf("%s_%s.blob", agent.ID, strings.ToLower(string(pos))))
	entry := c.params.SpawnOffset(pos)

	c.builds++
	if err := c.compiler.Compile(ctx, agent.Source, outPath, entry, agent); err != nil {
		return Artifact{}, fmt.Errorf("build %s for position %s: %w", agent.ID, pos, err)
	}

	blob, err := os.ReadFile(outPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("read built blob for %s: %w", agent.ID, err)
	}
	if err := Validate(blob); err != nil {
		return Artifact{}, fmt.Errorf("validate %s for position %s: %w", agent.ID, pos, err)
	}
	c.logger.Printf("built agent=%s position=%s bytes=%d", agent.ID, pos, len(blob))
	return Artifact{Path: outPath, Size: int64(len(blob))}, nil
}

// BuildAll runs the build phase for the whole roster: every asm agent is
// specialized for both spawn positions, blob paths are resolved once. A
// failed build excludes that agent and is reported via the returned map; it
// never fails the run.
func (c *Cache) BuildAll(ctx context.Context, agents []domain.AgentDescriptor) map[string]error {
	failed := make(map[string]error)
	for _, agent := range agents {
		if agent.Kind == domain.AgentKindBuiltin {
			continue
		}
		for _, pos := range []domain.SpawnPosition{domain.PositionA, domain.PositionB} {
			if _, err := c.Ensure(ctx, agent, pos); err != nil {
				c.logger.Printf("build failed agent=%s position=%s: %v", agent.ID, pos, err)
				failed[agent.ID] = err
				break
			}
		}
	}
	return failed
}
