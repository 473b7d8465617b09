package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _____                 _____          _   
 |_   _|               / ____|        | |  
   | |  _ __ ___  _ __| |     ___ _ __| |_ 
   | | | '__/ _ \| '_ \ |    / _ \ '__| __|
  _| |_| | | (_) | | | | |___|  __/ |  | |_ 
 |_____|_|  \___/|_| |_|\_____\___|_|   \__|
                                            
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Key and Certificate Reconciler - Version %s\x1b[0m\n\n", Version)
}
