package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/loykin/stackvisor/internal/supervisor"
)

// printTable renders the registry the way the launch pass left it.
func printTable(w io.Writer, rows []supervisor.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPID\tSTATE\tRESTART\tCOMMAND")
	for _, r := range rows {
		restart := "no"
		if r.RestartOnExit {
			restart = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.Name, r.PID, r.State, restart, r.Command)
	}
	_ = tw.Flush()
}
