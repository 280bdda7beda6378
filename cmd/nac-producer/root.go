package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "NAC_"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "nac-producer",
		Short: "Name-based access control producer",
		Long: `nac-producer encrypts content for NDN name-based access control.

Each piece of content is encrypted under a fresh symmetric key, and that
key is wrapped for the owner's published encryption key (E-KEY). The
result is a signed content object and a signed key object.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setFlagsFromEnv(envPrefix, cmd.Flags())
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the YAML configuration file.")

	root.AddCommand(
		newServeCmd(opts),
		newProduceCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

// setFlagsFromEnv fills flags not given on the command line from
// PREFIX_FLAG_NAME environment variables.
func setFlagsFromEnv(prefix string, fs *pflag.FlagSet) {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		if set[f.Name] {
			return
		}
		cleanPrefix := strings.TrimSuffix(prefix, "_")
		name := fmt.Sprintf("%s_%s", cleanPrefix, strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_"))
		if e, ok := os.LookupEnv(name); ok {
			// Set through the flag set so required-flag checks see it.
			_ = fs.Set(f.Name, e)
		}
	})
}
