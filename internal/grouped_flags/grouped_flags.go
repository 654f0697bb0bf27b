// Package grouped_flags wraps the flag package so related flags can be
// declared together and printed as named sections in the help output.
// Please see the example for more details.
package grouped_flags

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/jnovack/flag"
)

// FlagGroupSet is a flag set whose flags belong to named groups. Parsing
// always happens on the combined set; the grouping only affects Usage.
type FlagGroupSet struct {
	combined *flag.FlagSet
	groups   []group
}

type group struct {
	name  string
	flags *flag.FlagSet
}

func NewFlagGroupSet(errorHandling flag.ErrorHandling) *FlagGroupSet {
	gs := &FlagGroupSet{
		combined: flag.NewFlagSet(os.Args[0], errorHandling),
	}
	gs.combined.Usage = gs.Usage
	return gs
}

// AddGroup declares one section of the help output. The callback registers
// the group's flags on a private flag set, which is then mirrored into the
// combined set used for parsing.
func (gs *FlagGroupSet) AddGroup(name string, register func(*flag.FlagSet)) {
	groupFlags := flag.NewFlagSet("", flag.PanicOnError)
	register(groupFlags)

	groupFlags.VisitAll(func(fl *flag.Flag) {
		gs.combined.Var(fl.Value, fl.Name, fl.Usage)
	})

	gs.groups = append(gs.groups, group{name: name, flags: groupFlags})
}

func (gs *FlagGroupSet) Parse() error {
	return gs.combined.Parse(os.Args[1:])
}

func (gs *FlagGroupSet) SetOutput(output io.Writer) {
	gs.combined.SetOutput(output)
}

// Usage prints the groups in declaration order, each under its own heading.
func (gs *FlagGroupSet) Usage() {
	output := gs.combined.Output()
	fmt.Fprintf(output, "Usage of %s:\n\n", gs.combined.Name())

	for _, g := range gs.groups {
		fmt.Fprintf(output, "%s:\n", g.name)

		var buf bytes.Buffer
		g.flags.SetOutput(&buf)
		g.flags.PrintDefaults()
		fmt.Fprintln(output, buf.String())
	}
}
