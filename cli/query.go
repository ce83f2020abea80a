package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/app"
	"github.com/eddielth/turbine-fleet/ingest"
	"github.com/eddielth/turbine-fleet/query"
)

const queryShortDescription = `List turbines whose latest values cross the thresholds`
const queryLongDescription = `Command "query"

Matches turbines of the given make and location whose latest rpm or torque exceeds its
threshold, or whose wind speed and wind direction both exceed theirs. Omitted filters
take the values of query.defaults. Results are printed as JSON, ordered by name.

The memory backend starts empty in every process; use --ingest to write cycles first.
`

// filterFlags binds one flag per FilterSpec field
type filterFlags struct {
	spec   query.FilterSpec
	filter string
}

func (f *filterFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.spec.Make, "make", "", "turbine make")
	fs.StringVar(&f.spec.Location, "location", "", "turbine location")
	fs.Float64Var(&f.spec.RPMThreshold, "rpm-threshold", 0, "rotations per minute threshold")
	fs.Float64Var(&f.spec.TorqueThreshold, "torque-threshold", 0, "torque threshold in kN·m")
	fs.Float64Var(&f.spec.WindSpeedThreshold, "wind-speed-threshold", 0, "wind speed threshold in m/s")
	fs.Float64Var(&f.spec.WindDirectionThreshold, "wind-direction-threshold", 0, "wind direction threshold in degrees")
	fs.StringVar(&f.filter, "filter", "", "filter as a JSON object, e.g. '{\"rpm_threshold\": 30}'")
}

// resolve applies, in order, the defaults, the --filter JSON and the individual flags that were set
func (f *filterFlags) resolve(fs *pflag.FlagSet, defaults query.FilterSpec) (query.FilterSpec, error) {
	spec, err := query.ParseFilterSpec([]byte(f.filter), defaults)
	if err != nil {
		return query.FilterSpec{}, err
	}

	overrides := map[string]func(){
		"make":                     func() { spec.Make = f.spec.Make },
		"location":                 func() { spec.Location = f.spec.Location },
		"rpm-threshold":            func() { spec.RPMThreshold = f.spec.RPMThreshold },
		"torque-threshold":         func() { spec.TorqueThreshold = f.spec.TorqueThreshold },
		"wind-speed-threshold":     func() { spec.WindSpeedThreshold = f.spec.WindSpeedThreshold },
		"wind-direction-threshold": func() { spec.WindDirectionThreshold = f.spec.WindDirectionThreshold },
	}
	fs.Visit(func(flag *pflag.Flag) {
		if apply, ok := overrides[flag.Name]; ok {
			apply()
		}
	})
	return spec, nil
}

type queryOutput struct {
	Filter query.FilterSpec `json:"filter"`
	Assets []query.AssetRef `json:"assets"`
}

func queryCommand(root *rootCommand) *cobra.Command {
	var (
		flags  filterFlags
		cycles int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: queryShortDescription,
		Long:  queryLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			spec, err := flags.resolve(cmd.Flags(), root.config.Query.Defaults)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), root.config)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, a.Close())
			}()

			for i := 0; i < cycles; i++ {
				_, err := a.RunCycle(cmd.Context())
				var partial *ingest.PartialWriteError
				if err != nil && !errors.As(err, &partial) {
					return fmt.Errorf("ingestion before query failed: %w", err)
				}
			}

			refs, err := a.Query(cmd.Context(), spec)
			if err != nil {
				return err
			}
			if refs == nil {
				refs = []query.AssetRef{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(queryOutput{Filter: spec, Assets: refs})
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().IntVar(&cycles, "ingest", 0, "ingestion cycles to run before querying")
	return cmd
}
