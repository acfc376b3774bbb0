package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sop-monitor/backend/internal/ingestion"
	"github.com/sop-monitor/backend/internal/middleware/validation"
	"github.com/sop-monitor/backend/internal/storage/sqlite"
)

func newSOPCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sop",
		Short: "Manage the local SOP library",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import NAME FILE",
		Short: "Store an SOP file in the library under NAME",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			if !validation.ValidName(name) {
				return fmt.Errorf("invalid SOP name %q", name)
			}

			sop, err := ingestion.LoadSOPFile(path)
			if err != nil {
				return err
			}

			return withLibrary(root, func(ctx context.Context, lib *sqlite.Client) error {
				if err := lib.SaveSOP(ctx, name, sop); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %q (%s, %d steps)\n", name, sop.TaskName, len(sop.Steps))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List SOPs in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(root, func(ctx context.Context, lib *sqlite.Client) error {
				listings, err := lib.ListSOPs(ctx)
				if err != nil {
					return err
				}
				if len(listings) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No SOPs stored.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTASK\tSTEPS\tUPDATED")
				for _, l := range listings {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.Name, l.TaskName, l.StepCount, l.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Remove an SOP from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(root, func(ctx context.Context, lib *sqlite.Client) error {
				if err := lib.DeleteSOP(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withLibrary(root *rootOptions, fn func(ctx context.Context, lib *sqlite.Client) error) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	lib, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.InitSchema(); err != nil {
		return err
	}
	return fn(context.Background(), lib)
}
