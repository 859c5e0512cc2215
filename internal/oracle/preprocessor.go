package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/efebarandurmaz/fxdj/internal/ir"
	"github.com/efebarandurmaz/fxdj/internal/observability"
)

// Observer is notified after each preprocessor invocation.
type Observer interface {
	ObservePreprocess(source string, d time.Duration, err error)
}

// Config configures a Preprocessor.
type Config struct {
	// Template is a shell command with two %s slots: the header to
	// force-include, then the file to expand.
	Template string
	// Header is the binding header passed in the first slot.
	Header string
	// Shell runs the command; defaults to "sh".
	Shell string
	// CacheSize bounds the expanded-text cache; 0 disables it.
	CacheSize int
	Observer  Observer
	Logger    logrus.FieldLogger
}

// Preprocessor runs an external C preprocessor through the shell.
type Preprocessor struct {
	cfg   Config
	cache *lru.Cache[string, []byte]
}

// ValidateTemplate checks that template has exactly two %s slots. A literal
// percent sign is written %%.
func ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("%w: empty command (set FX_PREP)", ErrInvalidCommand)
	}
	if n := countSlots(template); n != 2 {
		return fmt.Errorf("%w: %q has %d %%s slots, want 2", ErrInvalidCommand, template, n)
	}
	return nil
}

// NewPreprocessor validates cfg and returns a Preprocessor.
func NewPreprocessor(cfg Config) (*Preprocessor, error) {
	if err := ValidateTemplate(cfg.Template); err != nil {
		return nil, err
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	p := &Preprocessor{cfg: cfg}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []byte](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create expansion cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Command returns the shell command line used to expand source.
func (p *Preprocessor) Command(source string) string {
	return BuildCommand(p.cfg.Template, p.cfg.Header, source)
}

// BuildCommand fills the two %s slots of template with shell-quoted paths
// and turns %% into %.
func BuildCommand(template, header, source string) string {
	return expand(template, []string{shellQuote(header), shellQuote(source)})
}

// countSlots counts %s slots, skipping %% escapes.
func countSlots(template string) int {
	n := 0
	for i := 0; i+1 < len(template); i++ {
		if template[i] != '%' {
			continue
		}
		if template[i+1] == 's' {
			n++
		}
		if template[i+1] == 's' || template[i+1] == '%' {
			i++
		}
	}
	return n
}

// expand substitutes args into the %s slots of template in order and
// unescapes %%.
func expand(template string, args []string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' || i+1 == len(template) {
			b.WriteByte(c)
			continue
		}
		switch template[i+1] {
		case '%':
			b.WriteByte('%')
			i++
		case 's':
			if len(args) > 0 {
				b.WriteString(args[0])
				args = args[1:]
			}
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Expand returns the preprocessed text of source.
func (p *Preprocessor) Expand(ctx context.Context, source string) ([]byte, error) {
	if p.cache != nil {
		if text, ok := p.cache.Get(source); ok {
			return text, nil
		}
	}

	command := p.Command(source)
	ctx, span := observability.StartOracleSpan(ctx, source)
	defer span.End()

	start := time.Now()
	text, err := run(ctx, p.cfg.Shell, command)
	d := time.Since(start)
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObservePreprocess(source, d, err)
	}
	if err != nil {
		observability.RecordError(span, err)
		var perr *PreprocessingError
		if errors.As(err, &perr) {
			perr.Source = source
		}
		return nil, err
	}
	p.cfg.Logger.WithFields(logrus.Fields{"source": source, "duration": d}).Debug("preprocessed")

	if p.cache != nil {
		p.cache.Add(source, text)
	}
	return text, nil
}

// Discover implements Oracle.
func (p *Preprocessor) Discover(ctx context.Context, sources []string) ([]ir.BindingKey, error) {
	return FromExpander(p).Discover(ctx, sources)
}

// SelfTest checks that template really preprocesses: a header defining
// TEST as PASSED is force-included into a source containing TEST.
func SelfTest(ctx context.Context, template, shell string) error {
	if err := ValidateTemplate(template); err != nil {
		return err
	}
	if shell == "" {
		shell = "sh"
	}
	dir, err := os.MkdirTemp("", "fxdj-prep-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	hdr := filepath.Join(dir, "tmp_hdr.h")
	src := filepath.Join(dir, "tmp_src.c")
	if err := os.WriteFile(hdr, []byte("#define TEST PASSED\n"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(src, []byte("TEST\n"), 0o644); err != nil {
		return err
	}

	out, err := run(ctx, shell, BuildCommand(template, hdr, src))
	if err != nil {
		var perr *PreprocessingError
		if errors.As(err, &perr) {
			perr.Source = "self-test source " + src
		}
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if !bytes.Contains(out, []byte("PASSED")) {
		return fmt.Errorf("%w: %q did not expand the test macro", ErrInvalidCommand, template)
	}
	return nil
}

func run(ctx context.Context, shell, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, &PreprocessingError{
			Command:  command,
			ExitCode: code,
			Output:   stderr.String() + stdout.String(),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
