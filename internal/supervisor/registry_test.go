package supervisor

import (
	"errors"
	"strings"
	"testing"

	"github.com/loykin/stackvisor/internal/process"
)

func TestRegistry_PutKeepsOrderAndReplacesInPlace(t *testing.T) {
	r := newRegistry()
	r.put(&ManagedProcess{Name: "api"})
	r.put(&ManagedProcess{Name: "dashboard"})
	r.put(&ManagedProcess{Name: "tracking"})
	r.put(&ManagedProcess{Name: "dashboard", Restarts: 3})

	if got := strings.Join(r.Names(), ","); got != "api,dashboard,tracking" {
		t.Fatalf("order = %s", got)
	}
	if m, _ := r.Get("dashboard"); m.Restarts != 3 {
		t.Fatalf("entry not replaced")
	}
	var seen []string
	r.Each(func(m *ManagedProcess) { seen = append(seen, m.Name) })
	if len(seen) != 3 {
		t.Fatalf("Each visited %v", seen)
	}
	r.clear()
	if r.Len() != 0 {
		t.Fatalf("clear left %d entries", r.Len())
	}
	if _, ok := r.Get("api"); ok {
		t.Fatalf("cleared entry still reachable")
	}
}

func TestRestartBudget(t *testing.T) {
	cases := []struct {
		max, restarts int
		want          bool
	}{
		{0, 100, true},
		{2, 1, true},
		{2, 2, false},
	}
	for _, c := range cases {
		m := &ManagedProcess{Spec: process.Spec{MaxRestarts: c.max}, Restarts: c.restarts}
		if got := m.restartBudgetLeft(); got != c.want {
			t.Errorf("max=%d restarts=%d: got %v", c.max, c.restarts, got)
		}
	}
}

func TestStatusOf_ExitedEntry(t *testing.T) {
	m := &ManagedProcess{
		Name:     "tracking",
		Spec:     process.Spec{Name: "tracking", Args: []string{"mlflow", "ui"}},
		State:    StateExited,
		LastExit: errors.New("exit status 1"),
	}
	st := statusOf(m)
	if st.Command != "mlflow ui" || st.LastExit != "exit status 1" || st.PID != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.ExitedAt != nil {
		t.Fatalf("zero exit time should not be reported")
	}
}

func TestLaunchErrorMatchesSentinel(t *testing.T) {
	err := error(&LaunchError{Name: "api", Err: errors.New("exec: not found")})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("errors.Is(ErrLaunch) = false")
	}
	if errors.Is(err, ErrDuplicateName) {
		t.Fatalf("unexpected match")
	}
	if !strings.Contains(err.Error(), "launch api") {
		t.Fatalf("message = %q", err.Error())
	}
}
