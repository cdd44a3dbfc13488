package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/config"
)

func newNextCmd(configPath *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the upcoming firings of every task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			loc, err := cfg.Scheduler.Location()
			if err != nil {
				return err
			}

			tasks, err := buildTasks(cfg)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCRON\tNEXT")
			for _, task := range tasks {
				for _, next := range upcoming(task, time.Now(), loc, count) {
					fmt.Fprintf(w, "%s\t%s\t%s\n", task.Name(), task.CronExpr(), next.Format(time.DateTime))
				}
			}

			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of firings per task")

	return cmd
}

// upcoming lists up to n firing instants strictly after now.
func upcoming[T any](task *scheduler.Task[T], now time.Time, loc *time.Location, n int) []time.Time {
	var res []time.Time
	for len(res) < n {
		next, ok := task.Next(now, loc)
		if !ok {
			break
		}

		res = append(res, next)
		now = next
	}

	return res
}
