package main

import (
	"os"

	"github.com/function61/gokit/app/dynversion"
	"github.com/function61/gokit/os/osutil"
	"github.com/spf13/cobra"
)

func main() {
	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Kernel mode setting display backend",
		Version: dynversion.Version,
	}

	app.AddCommand(outputsEntry())
	app.AddCommand(runEntry())

	osutil.ExitIfError(app.Execute())
}
