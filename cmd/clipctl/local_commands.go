package main

import (
	"errors"
	"fmt"
	"strconv"

	"clipfactory/config"
	"clipfactory/internal/service"
	"clipfactory/internal/storage"
	"clipfactory/internal/types"
	"clipfactory/log"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var errNeedsAsynq = errors.New("needs app.worker_mode = \"asynq\"; the server runs stages itself in inprocess mode")

// withService builds a local service for commands that act on storage and
// the task runtime directly instead of through the API.
func (c *commandContext) withService(mutate func(*config.Config), fn func(*service.Service) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	local := *cfg
	if mutate != nil {
		mutate(&local)
	}

	log.InitLogger()
	defer log.GetLogger().Sync()
	storage.InitDB()

	svc, err := service.NewService(local, storage.Default())
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run asynq stage workers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.App.WorkerMode != config.WorkerModeAsynq {
				return fmt.Errorf("worker %w", errNeedsAsynq)
			}
			return ctx.withService(func(c *config.Config) {
				c.Reconcile.Enabled = false
			}, func(svc *service.Service) error {
				if err := svc.StartWorkers(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workers consuming from %s\n", cfg.Redis.Addr)
				<-cmd.Context().Done()
				return nil
			})
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-enqueue stages whose predecessor finished but whose task was lost",
		Long: "Sweeps recent jobs once. In asynq mode the tasks go to Redis; in inprocess mode\n" +
			"they run in this process and the command returns when they drain.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(c *config.Config) {
				c.Reconcile.Enabled = true
			}, func(svc *service.Service) error {
				n, err := svc.Reconciler.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s stage tasks\n", humanize.Comma(int64(n)))
				return svc.Wait(cmd.Context())
			})
		},
	}
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the asynq stage queues",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueTaskCommand(ctx))
	return queueCmd
}

func localQueue(ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.App.WorkerMode != config.WorkerModeAsynq {
		return fmt.Errorf("queue %w", errNeedsAsynq)
	}
	return nil
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-stage queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := localQueue(ctx); err != nil {
				return err
			}
			return ctx.withService(disableReconcile, func(svc *service.Service) error {
				stats, err := svc.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					rows = append(rows, []string{
						s.Stage.String(),
						humanize.Comma(int64(s.Pending)),
						humanize.Comma(int64(s.Active)),
						humanize.Comma(int64(s.Scheduled)),
						humanize.Comma(int64(s.Retry)),
						humanize.Comma(int64(s.Archived)),
						humanize.Comma(int64(s.Completed)),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Stage", "Pending", "Active", "Scheduled", "Retry", "Archived", "Completed"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueTaskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "task <stage> <root-or-export-id>",
		Short: "Show the asynq task of one stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := types.ParseStage(args[0])
			if err != nil {
				return err
			}
			if err := localQueue(ctx); err != nil {
				return err
			}
			return ctx.withService(disableReconcile, func(svc *service.Service) error {
				info, err := svc.TaskInfo(cmd.Context(), stage, args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, info)
				}
				next := "-"
				if !info.NextProcessAt.IsZero() {
					next = humanize.Time(info.NextProcessAt)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Task", "Queue", "State", "Retried", "Next", "Last error"},
					[][]string{{info.ID, info.Queue, colorState(info.State), strconv.Itoa(info.Retried) + "/" + strconv.Itoa(info.MaxRetry), next, info.LastErr}},
					nil,
				))
				return nil
			})
		},
	}
}

func disableReconcile(c *config.Config) { c.Reconcile.Enabled = false }
