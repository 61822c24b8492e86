package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipeforge/conduit/api"
)

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List every model the bound pipes offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := buildHost(cmd)
			if err != nil {
				return err
			}
			defer shutdownHost(host)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			models := host.Models(ctx)
			if len(models) == 0 {
				fmt.Println(dimStyle.Render("No models available."))
				return nil
			}

			t := newTable("ID", "NAME")
			for _, m := range models {
				name := m.Name
				if strings.HasSuffix(m.ID, "."+api.ErrorModelID) {
					name = errorStyle.Render(name)
				}
				t.Row(m.ID, name)
			}
			fmt.Println(t)
			return nil
		},
	}
}
