package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

var (
	osExit           = os.Exit
	stderr io.Writer = os.Stderr
)

// ExitOnFlagError ends the process when startup configuration fails. A help
// request exits 0 because the flag set has already printed usage; anything
// else is reported on stderr with the conventional usage status 2.
func ExitOnFlagError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		osExit(0)
		return
	}
	fmt.Fprintf(stderr, "parse flags: %v\n", err)
	osExit(2)
}
