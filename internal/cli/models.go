package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models and their capabilities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tFAMILY\tCODE\tCAPABILITIES")
			for _, m := range cfg.Catalog() {
				var caps []string
				if m.SupportsTools {
					caps = append(caps, "tools")
				}
				if m.SupportsVision {
					caps = append(caps, "vision")
				}
				if m.SupportsThinking {
					caps = append(caps, "thinking")
				}
				id := m.ID
				if id == cfg.Defaults.Model {
					id += " *"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, m.Provider, m.Family, m.Code, strings.Join(caps, ","))
			}
			return w.Flush()
		},
	}
}
