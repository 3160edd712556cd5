package main

import (
	"context"
	"fmt"
	"time"

	"clipfactory/internal/dto"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const defaultPollInterval = 2 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a job or export until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return watchJob(cmd, client, args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "Polling interval")
	return cmd
}

type statusFetcher interface {
	Status(ctx context.Context, id string) (*dto.JobStatusResData, error)
}

func settled(state string) bool {
	switch state {
	case "completed", "failed", "done":
		return true
	}
	return false
}

// watchJob polls the status endpoint and draws overall progress. It returns
// an error when the job ends failed.
func watchJob(cmd *cobra.Command, client statusFetcher, id string, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	out := cmd.OutOrStdout()
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(id),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := client.Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		bar.Describe(fmt.Sprintf("%s %s", id, currentStage(st)))
		_ = bar.Set(st.Progress)
		if settled(st.State) {
			_ = bar.Finish()
			fmt.Fprintln(out)
			fmt.Fprint(out, renderStatus(st))
			if st.State == "failed" {
				return fmt.Errorf("%s %s failed: %s", st.Kind, st.Id, st.Error)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

// currentStage names the first stage that has not completed.
func currentStage(st *dto.JobStatusResData) string {
	for _, s := range st.Stages {
		if s.Status != "completed" {
			return s.Stage + ":" + s.Status
		}
	}
	return st.State
}
