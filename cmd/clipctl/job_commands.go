package main

import (
	"fmt"
	"strconv"
	"strings"

	"clipfactory/internal/dto"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var metaFlags []string
	var watch bool

	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Submit a video URL or file:// path for clipping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMeta(metaFlags)
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			res, err := client.Submit(cmd.Context(), args[0], meta)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, res)
			}
			verb := "Submitted"
			if res.Duplicate {
				verb = "Already submitted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s job %s\n", verb, res.JobId)
			if !watch {
				return nil
			}
			return watchJob(cmd, client, res.JobId, defaultPollInterval)
		},
	}

	cmd.Flags().StringArrayVar(&metaFlags, "meta", nil, "Job metadata as key=value (repeatable), e.g. auto_export=true")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the job until it settles")
	return cmd
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		meta[key] = strings.TrimSpace(value)
	}
	return meta, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a pipeline job or export record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, st)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}
}

func renderStatus(st *dto.JobStatusResData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s %d%%\n", st.Kind, st.Id, colorState(st.State), st.Progress)
	if st.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", st.Error)
	}
	if len(st.Stages) == 0 {
		return b.String()
	}
	rows := make([][]string, 0, len(st.Stages))
	for _, s := range st.Stages {
		rows = append(rows, []string{
			s.Stage,
			colorState(s.Status),
			strconv.Itoa(s.Progress) + "%",
			strconv.Itoa(s.Attempt),
			s.LastError,
		})
	}
	b.WriteString(renderTable(
		[]string{"Stage", "Status", "Progress", "Attempt", "Last error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	b.WriteString("\n")
	return b.String()
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var watch bool

	cmd := &cobra.Command{
		Use:   "export <root-id> <clip-id>",
		Short: "Publish one rendered clip",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			res, err := client.Export(cmd.Context(), args[0], args[1], userID)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Export %s: %s\n", res.ExportId, colorState(res.Status))
			if !watch {
				return nil
			}
			return watchJob(cmd, client, res.ExportId, defaultPollInterval)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User whose platform credentials publish the clip")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the export until it settles")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <root-id>",
		Short: "List the stored artifacts of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			list, err := client.Artifacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, list)
			}
			if len(list.Keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No artifacts yet")
				return nil
			}
			rows := make([][]string, 0, len(list.Keys))
			for _, key := range list.Keys {
				rows = append(rows, []string{key})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key"}, rows, nil))
			fmt.Fprintf(cmd.OutOrStdout(), "%s artifacts\n", humanize.Comma(int64(len(list.Keys))))
			return nil
		},
	}
}
