package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dopple/internal/persona"
)

func newInspectCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <persona-id>",
		Short: "Show a stored persona and the state of its clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := cc.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rec, err := a.Writer.Load(ctx, persona.KeyFor(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			if cc.jsonOut {
				return writeJSON(cmd, rec)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "%s  %s  %s\n", rec.ID, rec.DisplayName(), colorStatus(string(rec.Status), colorize))
			if rec.LastError != "" {
				fmt.Fprintf(out, "last error: %s\n", rec.LastError)
			}
			fmt.Fprintln(out, renderTable([]string{"Setup", "Value"}, setupRows(rec)))
			fmt.Fprintln(out, renderTable([]string{"Script", "State", "Detail"}, clipRows(rec, time.Now())))
			return nil
		},
	}
}

func setupRows(rec *persona.Record) [][]string {
	ps := rec.ProviderState
	agent := ""
	if rec.Agent != nil {
		agent = rec.Agent.Source
	}
	notified := ""
	if rec.NotifiedAt != nil {
		notified = rec.NotifiedAt.UTC().Format(time.RFC3339)
	}
	return [][]string{
		{"asset", ps.AssetHandle},
		{"group", ps.GroupHandle},
		{"avatar", ps.RenderableID},
		{"voice", ps.VoiceHandle},
		{"agent", agent},
		{"notified", notified},
	}
}

func clipRows(rec *persona.Record, now time.Time) [][]string {
	rows := make([][]string, 0, len(rec.Scripts))
	for _, s := range rec.Scripts {
		var row []string
		if r, ok := rec.Renders[s.Key]; ok {
			row = []string{s.Key, "done", r.URL}
		} else if reason, ok := rec.Failures[s.Key]; ok {
			row = []string{s.Key, "failed", reason}
		} else if p, ok := rec.Pending[s.Key]; ok {
			detail := p.JobID + ", polls " + strconv.Itoa(p.Polls)
			if !p.StartedAt.IsZero() {
				detail += ", " + now.Sub(p.StartedAt).Round(time.Second).String() + " ago"
			}
			row = []string{s.Key, "rendering", detail}
		} else {
			row = []string{s.Key, "waiting", ""}
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}
