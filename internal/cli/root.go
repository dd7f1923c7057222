package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/regehr/opt-fuzz/pkg/optfuzz"
)

const (
	appName    = "opt-fuzz"
	appVersion = "0.1.0"
)

// NewRootCmd builds the opt-fuzz command line surface: one flag per
// Options field, bound directly so cobra's own defaulting does the work
// Options.Defaults would otherwise duplicate.
func NewRootCmd() *cobra.Command {
	opts := optfuzz.Defaults()
	showVersion := false

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "bounded exhaustive generator of small integer SSA functions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			if showVersion {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, appVersion)
				return err
			}

			opts.SeedSet = cmd.Flags().Changed("seed")
			if opts.Fuzz && !opts.SeedSet && opts.Choices == "" {
				opts.Seed = uint64(os.Getpid())
			}

			stats, err := optfuzz.Run(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "opt-fuzz: %d emitted, %d discarded, max %d concurrent workers\n",
				stats.LeavesEmitted, stats.LeavesDiscarded, stats.MaxRunning)
			return nil
		},
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version")

	cmd.Flags().IntVar(&opts.Cores, "cores", opts.Cores, "maximum number of concurrently running workers")
	cmd.Flags().IntVar(&opts.Width, "width", opts.Width, "base integer width in bits (must be >= 2)")
	cmd.Flags().IntVar(&opts.NumInsns, "num-insns", opts.NumInsns, "instruction budget per generated function")
	cmd.Flags().IntVar(&opts.Promote, "promote", opts.Promote, "widen arguments narrower than this many bits")

	cmd.Flags().BoolVar(&opts.GenerateUndef, "undef", opts.GenerateUndef, "allow undef as a generated value")
	cmd.Flags().BoolVar(&opts.GenerateFreeze, "freeze", opts.GenerateFreeze, "allow freeze as a generated value")
	cmd.Flags().StringVar(&opts.Base, "base", opts.Base, "base name for generated function symbols and output files")

	cmd.Flags().BoolVar(&opts.ArgsFromMemory, "args-from-memory", opts.ArgsFromMemory, "skip --promote widening, as if arguments were loaded from memory")
	cmd.Flags().BoolVar(&opts.ReturnToMemory, "return-to-memory", opts.ReturnToMemory, "reserved for a future store-based return path")
	cmd.Flags().BoolVar(&opts.Branches, "branches", opts.Branches, "generate conditional control flow with phi nodes")
	cmd.Flags().BoolVar(&opts.UseIntrinsics, "intrinsics", opts.UseIntrinsics, "generate bit/saturating/minmax/overflow intrinsics")
	cmd.Flags().IntVar(&opts.NumFiles, "num-files", opts.NumFiles, "number of bucket files when not using --one-func-per-file")
	cmd.Flags().BoolVar(&opts.OneFuncPerFile, "one-func-per-file", opts.OneFuncPerFile, "write every leaf to its own file instead of bucketing")
	cmd.Flags().BoolVar(&opts.OneICmp, "one-icmp", opts.OneICmp, "restrict generated icmp predicates to eq")
	cmd.Flags().BoolVar(&opts.OneBinop, "one-binop", opts.OneBinop, "restrict generated binary operators to add")
	cmd.Flags().BoolVar(&opts.NoUB, "noub", opts.NoUB, "forbid poison-producing nsw/nuw/exact decorations on generated instructions")
	cmd.Flags().BoolVar(&opts.GenI1, "geni1", opts.GenI1, "generate an i1-returning function instead of width-returning")
	cmd.Flags().BoolVar(&opts.FewConsts, "fewconsts", opts.FewConsts, "restrict constants to {0, 1, -1, one more value} instead of exhaustive enumeration; the fourth value is random under --fuzz without --choices and 0 otherwise")
	cmd.Flags().BoolVar(&opts.Verify, "verify", opts.Verify, "run the structural verifier on every generated function")

	cmd.Flags().BoolVar(&opts.Fuzz, "fuzz", opts.Fuzz, "use random choices instead of exhaustive enumeration")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "seed for --fuzz's random choices (default: process id)")
	cmd.Flags().StringVar(&opts.Choices, "choices", opts.Choices, "replay a specific space-separated choice sequence instead of choosing")

	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", opts.OutputDir, "directory to write generated files into")
	cmd.Flags().BoolVar(&opts.DumpChoices, "dump-choices", opts.DumpChoices, "write each leaf's choice sequence to a sibling .choices file")

	return cmd
}
