package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/loykin/stackvisor/internal/config"
	"github.com/loykin/stackvisor/internal/detector"
	"github.com/loykin/stackvisor/internal/supervisor"
	"github.com/loykin/stackvisor/pkg/client"
)

func runStatus(ctx context.Context, f StatusFlags, out io.Writer) error {
	if f.APIUrl != "" {
		return statusViaAPI(ctx, f, out)
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tALIVE\tDETECTOR")
	for _, p := range cfg.AllProcesses() {
		if p.PIDFile == "" {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, "unknown", "none")
			continue
		}
		d := detector.PIDFileDetector{PIDFile: p.PIDFile}
		alive, err := d.Alive()
		state := "no"
		switch {
		case err != nil:
			state = "error: " + err.Error()
		case alive:
			state = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, state, d.Describe())
	}
	return tw.Flush()
}

func statusViaAPI(ctx context.Context, f StatusFlags, out io.Writer) error {
	c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	v, err := c.Status(ctx)
	if err != nil {
		return err
	}
	rows := make([]supervisor.Status, 0, len(v.Processes))
	for _, p := range v.Processes {
		rows = append(rows, supervisor.Status{
			Name:          p.Name,
			PID:           p.PID,
			State:         supervisor.State(p.State),
			RestartOnExit: p.RestartOnExit,
			Command:       p.Command,
		})
	}
	printTable(out, rows)
	return nil
}
