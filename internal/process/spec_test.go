package process

import (
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name        string
		spec        Spec
		expectErr   bool
		errContains string
	}{
		{
			name: "valid spec",
			spec: Spec{Name: "api", Args: []string{"uvicorn", "src.api:app"}},
		},
		{
			name:        "empty name",
			spec:        Spec{Args: []string{"echo"}},
			expectErr:   true,
			errContains: "name",
		},
		{
			name:        "path traversal name",
			spec:        Spec{Name: "../etc", Args: []string{"echo"}},
			expectErr:   true,
			errContains: "name",
		},
		{
			name:        "no args",
			spec:        Spec{Name: "api"},
			expectErr:   true,
			errContains: "executable",
		},
		{
			name:        "blank executable",
			spec:        Spec{Name: "api", Args: []string{"  ", "x"}},
			expectErr:   true,
			errContains: "executable",
		},
		{
			name:        "negative restarts",
			spec:        Spec{Name: "api", Args: []string{"echo"}, MaxRestarts: -1},
			expectErr:   true,
			errContains: "max_restarts",
		},
		{
			name:        "negative start delay",
			spec:        Spec{Name: "api", Args: []string{"echo"}, StartDelay: -time.Second},
			expectErr:   true,
			errContains: "start_delay",
		},
		{
			name:        "malformed env",
			spec:        Spec{Name: "api", Args: []string{"echo"}, Env: []string{"NOVALUE"}},
			expectErr:   true,
			errContains: "KEY=VALUE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if !tt.expectErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errContains)
			}
			if !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("error does not wrap ErrInvalidSpec: %v", err)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("error %q does not contain %q", err, tt.errContains)
			}
		})
	}
}

func TestBuildCommand_LiteralArgv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like system")
	}
	s := Spec{Name: "x", Args: []string{"echo", "a | b", "$HOME"}, WorkDir: "/tmp"}
	cmd := s.BuildCommand([]string{"A=1"})
	if len(cmd.Args) != 3 || cmd.Args[1] != "a | b" || cmd.Args[2] != "$HOME" {
		t.Fatalf("argv was rewritten: %#v", cmd.Args)
	}
	if cmd.Dir != "/tmp" {
		t.Fatalf("workdir not applied: %q", cmd.Dir)
	}
	if len(cmd.Env) != 1 || cmd.Env[0] != "A=1" {
		t.Fatalf("env not applied: %#v", cmd.Env)
	}
	if cmd.SysProcAttr == nil {
		t.Fatalf("SysProcAttr not configured")
	}
}

func TestBuildCommand_EmptyEnvInherits(t *testing.T) {
	cmd := Spec{Name: "x", Args: []string{"true"}}.BuildCommand(nil)
	if cmd.Env != nil {
		t.Fatalf("expected inherited env, got %#v", cmd.Env)
	}
}

func TestIsSafeName(t *testing.T) {
	for _, s := range []string{"api", "airflow-scheduler", "svc_1.v2"} {
		if !IsSafeName(s) {
			t.Errorf("IsSafeName(%q) = false", s)
		}
	}
	for _, s := range []string{"", "a/b", "..", "a b", "x..y"} {
		if IsSafeName(s) {
			t.Errorf("IsSafeName(%q) = true", s)
		}
	}
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(8)
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))
	if got := tb.String(); got != "lo world" {
		t.Fatalf("tail = %q", got)
	}
	if tb.Dropped() != 3 {
		t.Fatalf("dropped = %d", tb.Dropped())
	}
	_, _ = tb.Write([]byte("0123456789"))
	if got := tb.String(); got != "23456789" {
		t.Fatalf("oversized write tail = %q", got)
	}
	if tb.Dropped() != 13 {
		t.Fatalf("dropped after oversized write = %d", tb.Dropped())
	}
}

func TestTailBuffer_DefaultSize(t *testing.T) {
	if tb := newTailBuffer(0); tb.max != DefaultTailBytes {
		t.Fatalf("max = %d", tb.max)
	}
}
