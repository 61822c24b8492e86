package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pipeforge/conduit/core/loader"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check the pipe manifests under a directory",
		Long: `Walks the given directory for pipe.yaml manifests and reports, for
each one, whether it would load: required fields, version format,
known format identifier and a readable artifact path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifests, errs := loader.Discover(args[0])

			for _, err := range errs {
				fmt.Println(errorStyle.Render(fmt.Sprintf("unreadable: %v", err)))
			}
			if len(manifests) == 0 {
				if len(errs) == 0 {
					fmt.Println(dimStyle.Render("No manifests found."))
				}
				return nil
			}

			t := newTable("ID", "FORMAT", "PATH", "STATUS")
			invalid := 0
			for _, m := range manifests {
				problems := manifestProblems(m)
				status := "ok"
				if len(problems) > 0 {
					invalid++
					status = errorStyle.Render(strings.Join(problems, "; "))
				}
				t.Row(m.ID, m.Format, m.Path, status)
			}
			fmt.Println(t)

			if invalid > 0 {
				return fmt.Errorf("%d of %d manifests invalid", invalid, len(manifests))
			}
			fmt.Println(fmt.Sprintf("%d manifests ok", len(manifests)))
			return nil
		},
	}
}

// manifestProblems collects everything that would keep a manifest from
// loading.
func manifestProblems(m loader.Manifest) []string {
	var problems []string
	for _, fe := range m.Validate() {
		problems = append(problems, fe.Error())
	}

	if m.Format != "" {
		known := false
		for _, f := range loader.Formats() {
			if f == m.Format {
				known = true
				break
			}
		}
		if !known {
			problems = append(problems, fmt.Sprintf("format: no loader for %s", m.Format))
		}
	}

	if m.Path != "" {
		if _, err := os.Stat(m.Path); err != nil {
			problems = append(problems, fmt.Sprintf("path: %v", err))
		}
	}
	return problems
}
