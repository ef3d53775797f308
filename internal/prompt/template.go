package prompt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

// TemplateData is passed to every alternative when it is rendered.
type TemplateData struct {
	SessionID string
	Locale    string
}

// TemplateConfig configures a TemplateGenerator.
type TemplateConfig struct {
	Dir       string
	File      string
	Locale    string
	SessionID string

	// Pick chooses one of n alternatives. Defaults to a uniform random pick.
	Pick func(n int) int
}

// TemplateGenerator reads alternatives from a prompt file, one per non-blank
// line, and renders one of them per call. Lines starting with '#' are
// comments. The file is looked up as <dir>/<locale>/<file> first and then
// as <dir>/<file>.
type TemplateGenerator struct {
	cfg    TemplateConfig
	logger *logger.Logger
}

// NewTemplateGenerator creates a TemplateGenerator. The file is read on every
// Generate so edits are picked up without a restart.
func NewTemplateGenerator(cfg TemplateConfig, log *logger.Logger) (*TemplateGenerator, error) {
	if cfg.File == "" {
		return nil, errors.New("prompt file is required")
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.Intn
	}
	return &TemplateGenerator{
		cfg:    cfg,
		logger: logger.OrGlobal(log).Named("prompt"),
	}, nil
}

// Generate renders one alternative.
func (g *TemplateGenerator) Generate(ctx context.Context) (string, error) {
	path, err := g.resolve()
	if err != nil {
		return "", err
	}

	lines, err := readAlternatives(path)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyPrompt)
	}

	idx := g.cfg.Pick(len(lines))
	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=error").Parse(lines[idx])
	if err != nil {
		return "", fmt.Errorf("parse prompt line %d of %s: %w", idx+1, path, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, TemplateData{SessionID: g.cfg.SessionID, Locale: g.cfg.Locale}); err != nil {
		return "", fmt.Errorf("render prompt line %d of %s: %w", idx+1, path, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyPrompt)
	}

	g.logger.Debug("prompt generated", zap.String("path", path), zap.Int("line", idx+1))
	return text, nil
}

func (g *TemplateGenerator) resolve() (string, error) {
	candidates := make([]string, 0, 2)
	if g.cfg.Locale != "" {
		candidates = append(candidates, filepath.Join(g.cfg.Dir, g.cfg.Locale, g.cfg.File))
	}
	candidates = append(candidates, filepath.Join(g.cfg.Dir, g.cfg.File))

	for _, path := range candidates {
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat prompt file: %w", err)
		}
	}
	return "", fmt.Errorf("prompt file %q not found in %q: %w", g.cfg.File, g.cfg.Dir, fs.ErrNotExist)
}

func readAlternatives(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompt file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	return lines, nil
}
