package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/nsKV/cmd/admin"
	"github.com/ValentinKolb/nsKV/cmd/kv"
	"github.com/ValentinKolb/nsKV/cmd/queue"
	"github.com/ValentinKolb/nsKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "nskv",
		Short: "namespaced embedded key-value store",
		Long: fmt.Sprintf(`nsKV (v%s)

An embedded key-value store with a fixed set of namespaces and
interchangeable engines (memory, pebble, bolt, sql).

All flags can also be set as environment variables with the prefix
NSKV_ (e.g. NSKV_ENGINE=pebble) or in a .env / .env.local file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nsKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nsKV v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(queue.QueueCommands)
	for _, c := range admin.Commands {
		RootCmd.AddCommand(c)
	}
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
