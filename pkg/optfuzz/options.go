package optfuzz

import "fmt"

// Options is the flat configuration contract bound one field per CLI flag,
// matching the command-line surface table this system exposes.
type Options struct {
	Cores    int
	Width    int
	NumInsns int
	Promote  int

	GenerateUndef  bool
	GenerateFreeze bool
	Base           string

	ArgsFromMemory   bool
	ReturnToMemory   bool
	Branches         bool
	UseIntrinsics    bool
	NumFiles         int
	OneFuncPerFile   bool
	OneICmp          bool
	OneBinop         bool
	NoUB             bool
	GenI1            bool
	FewConsts        bool
	Verify           bool

	Fuzz    bool
	Seed    uint64
	SeedSet bool

	Choices string // forced-replay token string, space-separated integers

	OutputDir string // directory bucketed/per-leaf files are written under

	// DumpChoices additionally writes each emitted leaf's Choices trace to a
	// sibling "<file>.<id>.choices" entry, making the replay law directly
	// exercisable from disk.
	DumpChoices bool
}

// Defaults returns the option set matching the table in this system's
// command-line surface: verification on, exhaustive mode, no branches/
// intrinsics, one bucket.
func Defaults() Options {
	return Options{
		Cores:          1,
		Width:          4,
		NumInsns:       2,
		Promote:        0,
		GenerateUndef:  false,
		GenerateFreeze: false,
		Base:           "func_",
		NumFiles:       1,
		Verify:         true,
		OutputDir:      ".",
	}
}

// Validate rejects option combinations the system treats as contract
// violations: Width < 2, Seed set outside --fuzz, --cores < 1.
func (o Options) Validate() error {
	if o.Width < 2 {
		return fmt.Errorf("Width must be >= 2")
	}
	if o.Cores < 1 {
		return fmt.Errorf("Cores must be >= 1")
	}
	if o.NumFiles < 1 {
		return fmt.Errorf("NumFiles must be >= 1")
	}
	if o.SeedSet && !o.Fuzz {
		return fmt.Errorf("--seed is forbidden outside --fuzz (exhaustive mode has no randomness to seed)")
	}
	if o.Choices != "" && !o.Fuzz {
		return fmt.Errorf("--choices replay is only meaningful with --fuzz")
	}
	return nil
}
