package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironcert/cmd/ironcert/cmd"
)

func main() {
	// Wipe enclave keys on SIGINT/SIGTERM and on normal exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cmd.Execute()
}
