package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kenneth/nac-producer/internal/crypto"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display the version",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout(), verbose)
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false,
		"If enabled, displays the additional information about this build.")
	return cmd
}

func printVersion(w io.Writer, verbose bool) {
	fmt.Fprintln(w, "nac-producer version:", version, runtime.GOOS+"/"+runtime.GOARCH)
	if verbose {
		fmt.Fprintln(w, "  Commit:", commit)
		fmt.Fprintln(w, "  Built: ", buildDate)
		fmt.Fprintln(w, "  Go:    ", runtime.Version())
		fmt.Fprintln(w, "  Cipher:", crypto.AlgorithmAES256GCM, "+", crypto.AlgorithmRSAOAEPSHA256)
		fmt.Fprintln(w, "  AES hardware:", crypto.HasAESHardwareSupport())
	}
}
