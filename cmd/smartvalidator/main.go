// Command smartvalidator validates SAP warehouse records with a language
// model, either as an HTTP service or one file at a time.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
