// livedev is a development server with live reload and module updates.
package main

import (
	"os"

	"github.com/hupe1980/livedev/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
