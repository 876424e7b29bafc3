package env

import (
	"os"
	"sort"
	"strings"
)

const (
	// ContainerVar, when truthy, tells children to listen on every interface.
	ContainerVar = "RUNNING_IN_DOCKER"
	// BindHostVar is the variable argv templates use for the listen address.
	BindHostVar = "BIND_HOST"

	AllInterfaces = "0.0.0.0"
	Loopback      = "127.0.0.1"
)

type Var map[string]string

type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// WithBase replaces the cached base environment, mainly for tests.
func (e *Env) WithBase(kvs []string) *Env {
	e.env = parse(kvs)
	return e
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Lookup resolves k against the globals first, then the base environment.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Merge composes the child environment: base, then globals, then perProc
// "K=V" overrides. ${VAR} references are expanded in one pass against the
// composed map; a substituted value is not expanded again. Output is sorted
// by key.
func (e *Env) Merge(perProc []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perProc))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parse(perProc) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lookup := func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expandBraced(m[k], lookup))
	}
	return out
}

// ExpandArgs substitutes ${VAR} references in each argument using Lookup.
// Unknown references and every other use of '$' are left as-is.
func (e *Env) ExpandArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expandBraced(a, e.Lookup)
	}
	return out
}

// BindHost picks the listen address children are told to use.
func BindHost(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if IsTruthy(getenv(ContainerVar)) {
		return AllInterfaces
	}
	return Loopback
}

// IsTruthy reports whether s is one of 1, true, yes, on (case-insensitive).
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expandBraced replaces ${NAME} where NAME is a shell identifier known to
// lookup. The text is scanned once, left to right.
func expandBraced(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := lookup(name); ok && isIdent(name) {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
