// Command icesd runs the ICES analysis/verdict worker processes. Grounded
// on vigil's discovery-service cobra root-command layout
// (rootCmd + per-subcommand AddCommand-in-init), generalised from a single
// `run` subcommand to one subcommand per worker pool (§2).
package main

import (
	"github.com/BlackChamberSecurity/BlackChamber-ICES/cmd/icesd/cmd"
)

func main() {
	cmd.Execute()
}
