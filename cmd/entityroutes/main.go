package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/conduit-lang/entityroutes/internal/cli/commands"
	"github.com/conduit-lang/entityroutes/internal/cli/ui"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		var formatted *commands.FormattedError
		if errors.As(err, &formatted) {
			fmt.Fprint(os.Stderr, formatted.Text)
		} else {
			ui.WriteError(os.Stderr, ui.ErrorOptions{Problem: err.Error()})
		}
		os.Exit(1)
	}
}
