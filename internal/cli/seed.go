package cli

import (
	"encoding/json"
	"fmt"
	"time"

	applog "offlinepos/internal/log"
	"offlinepos/internal/seed"

	"github.com/spf13/cobra"
)

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Import a catalog of products, materials, recipes and users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := seed.Load(args[0])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "catalog", Err: err}
			}
			_, db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			sum, err := seed.Import(ctxOf(cmd), db, c, time.Now().UTC())
			if err != nil {
				return err
			}
			applog.Audit(nil, "seed.import", map[string]any{"component": "cli", "tenant": c.Tenant, "queued": sum.Queued})

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(out).Encode(sum)
			}
			fmt.Fprintf(out, "imported %d products, %d materials, %d recipes, %d users; %d changes queued\n",
				sum.Products, sum.Materials, sum.Recipes, sum.Users, sum.Queued)
			return nil
		},
	}
}
