// Package builtins looks up signatures of functions and methods the
// workspace does not declare (PHP built-ins, extensions) by asking the PHP
// binary's reflection API. Every failure means "no signature".
package builtins

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"phpscope/internal/extract"
	"phpscope/internal/logging"
)

// reflectScript prints name=, param= and return= lines for the callable
// named by the first argument.
const reflectScript = `$n = $argv[1];
try {
    $f = strpos($n, '::') !== false ? new ReflectionMethod($n) : new ReflectionFunction($n);
} catch (Throwable $e) {
    exit(3);
}
echo "name=", $f->getName(), "\n";
foreach ($f->getParameters() as $p) {
    $t = $p->getType();
    $d = '';
    if ($p->isDefaultValueAvailable()) {
        try { $d = ' = ' . var_export($p->getDefaultValue(), true); } catch (Throwable $e) {}
    } elseif ($p->isOptional() && !$p->isVariadic()) {
        $d = ' = ?';
    }
    echo "param=", $t ? $t . ' ' : '', $p->isPassedByReference() ? '&' : '', $p->isVariadic() ? '...' : '', '$', $p->getName(), str_replace("\n", ' ', $d), "\n";
}
if ($f->hasReturnType()) {
    echo "return=", $f->getReturnType(), "\n";
}
$doc = $f->getDocComment();
if ($doc) {
    echo "doc=", str_replace("\n", ' ', $doc), "\n";
}
`

var callableNameRe = regexp.MustCompile(`^\\?[A-Za-z_][\w\\]*(?:::[A-Za-z_]\w*)?$`)

// ErrUnavailable is returned by Lookup when no PHP binary can be run.
var ErrUnavailable = errors.New("php binary unavailable")

type runFunc func(ctx context.Context, binary string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).Output()
}

// Reflector runs reflection queries with a deadline and caches the answers,
// including negative ones.
type Reflector struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
	run     runFunc

	mu        sync.Mutex
	cache     map[string]*extract.Signature
	available *bool

	flight singleflight.Group
}

// New creates a reflector for the given PHP binary. A zero timeout means
// 1.5 seconds.
func New(binary string, timeout time.Duration, logger *slog.Logger) *Reflector {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reflector{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
		run:     runCommand,
		cache:   make(map[string]*extract.Signature),
	}
}

// Available reports whether the binary can be found. The answer is
// remembered.
func (r *Reflector) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.available == nil {
		_, err := exec.LookPath(r.binary)
		ok := r.binary != "" && err == nil
		r.available = &ok
		if !ok {
			r.logger.Debug("php binary not found, reflection disabled", "binary", r.binary)
		}
	}
	return *r.available
}

// Signature returns the signature of a built-in callable, or false when the
// binary is missing, fails, times out or does not know the name.
func (r *Reflector) Signature(ctx context.Context, name string) (extract.Signature, bool) {
	name = strings.TrimLeft(strings.TrimSpace(name), `\`)
	if !callableNameRe.MatchString(name) {
		return extract.Signature{}, false
	}

	r.mu.Lock()
	cached, hit := r.cache[name]
	r.mu.Unlock()
	if hit {
		if cached == nil {
			return extract.Signature{}, false
		}
		return *cached, true
	}

	v, _, _ := r.flight.Do(name, func() (any, error) {
		sig, err := r.Lookup(ctx, name)
		if err != nil {
			r.logger.Debug("reflection lookup failed", "name", name, "error", err)
		}
		// Cancellation by the caller says nothing about the name.
		if ctx.Err() != nil {
			return (*extract.Signature)(nil), nil
		}
		r.mu.Lock()
		r.cache[name] = sig
		r.mu.Unlock()
		return sig, nil
	})
	sig, _ := v.(*extract.Signature)
	if sig == nil {
		return extract.Signature{}, false
	}
	return *sig, true
}

// Lookup runs one uncached reflection query.
func (r *Reflector) Lookup(ctx context.Context, name string) (*extract.Signature, error) {
	if !r.Available() {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.run(ctx, r.binary, "-n", "-r", reflectScript, "--", name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reflecting %s: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("reflecting %s: %w", name, err)
	}
	sig, ok := ParseOutput(string(out))
	if !ok {
		return nil, fmt.Errorf("reflecting %s: unexpected output", name)
	}
	return &sig, nil
}

// ParseOutput turns the key=value lines printed by the reflection script
// into a signature.
func ParseOutput(out string) (extract.Signature, bool) {
	var sig extract.Signature
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			sig.Name = value
		case "param":
			if p, ok := extract.ParseParam(value); ok {
				if p.Default == "?" {
					p.Default = ""
				}
				sig.Params = append(sig.Params, p)
			}
		case "return":
			sig.ReturnType = value
		case "doc":
			sig.Doc = value
		}
	}
	if sig.Name == "" {
		return extract.Signature{}, false
	}
	display := sig.Name
	if _, method, ok := strings.Cut(display, "::"); ok {
		display = method
	}
	sig.Label = extract.FormatLabel(display, sig.Params, sig.ReturnType)
	sig.ResolvedReturn = strings.TrimPrefix(sig.ReturnType, "?")
	return sig, true
}
