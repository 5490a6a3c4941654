// Command degcli runs a differential expression analysis on a local table
// without the web server or any external service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
