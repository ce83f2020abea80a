package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/app"
	"github.com/eddielth/turbine-fleet/ingest"
)

const ingestShortDescription = `Run ingestion cycles once`
const ingestLongDescription = `Command "ingest"

Generates one sample per property per turbine and writes the batch to the configured
store, then prints the write report as JSON. Rejected entries are listed in the report
and do not fail the command unless every entry was rejected.
`

func ingestCommand(root *rootCommand) *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: ingestShortDescription,
		Long:  ingestLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if cycles < 1 {
				return fmt.Errorf("--cycles must be at least 1, got %d", cycles)
			}

			a, err := app.New(cmd.Context(), root.config)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, a.Close())
			}()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for i := 0; i < cycles; i++ {
				report, err := a.RunCycle(cmd.Context())
				var partial *ingest.PartialWriteError
				if err != nil && !errors.As(err, &partial) {
					return err
				}
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&cycles, "cycles", "n", 1, "number of cycles to run")
	return cmd
}
