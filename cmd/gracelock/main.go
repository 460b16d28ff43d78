// Command gracelock runs tracker sessions from the terminal: it serves
// grace countdowns and metrics over HTTP, walks a cell edit through its
// confirmation, imports spreadsheets and browses the audit log.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
