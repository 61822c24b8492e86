package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPipesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pipes",
		Short: "Show registered pipes, their bindings and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := buildHost(cmd)
			if err != nil {
				return err
			}
			defer shutdownHost(host)

			entries := host.Registry().List()
			if len(entries) == 0 {
				fmt.Println(dimStyle.Render("No pipes registered."))
				return nil
			}

			t := newTable("ID", "NAME", "VERSION", "KIND", "BOUND", "FAILURES")
			for _, entry := range entries {
				meta := entry.Meta()

				kind := "pipe"
				if entry.IsManifold() {
					kind = "manifold"
				}
				bound := "yes"
				if !entry.Bound() {
					bound = errorStyle.Render("no")
				}

				t.Row(meta.ID, meta.Name, meta.Version, kind, bound,
					fmt.Sprintf("%d", host.Health().Failures(meta.ID)))
			}
			fmt.Println(t)
			return nil
		},
	}
}
