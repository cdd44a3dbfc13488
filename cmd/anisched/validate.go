package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alextanhongpin/ani-scheduler/pkg/config"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured jobs without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			if _, err := cfg.Scheduler.Location(); err != nil {
				return err
			}

			reg, err := newRegistry()
			if err != nil {
				return err
			}
			known := strings.Join(reg.Commands(), ", ")

			tasks, err := buildTasks(cfg)
			for _, task := range tasks {
				status := "ok"
				if !task.Resolved() {
					status = fmt.Sprintf("unknown cmd %s (known: %s)", task.Cmd(), known)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", task.Name(), status)
			}

			return err
		},
	}
}
