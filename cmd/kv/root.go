package kv

import (
	"github.com/ValentinKolb/nsKV/cmd/util"
	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	kvStore   *store.Handle
	namespace db.Namespace

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on a namespace",
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: util.CloseStore,
	}
)

func init() {
	// Set default namespace for key value operations (different from queue default)
	KeyValueCommands.PersistentFlags().String("namespace", string(db.NsTemp), util.WrapString("The namespace to operate on"))

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(removeCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(sizeCmd)
	KeyValueCommands.AddCommand(listCmd)
	KeyValueCommands.AddCommand(truncateCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupStore opens the configured store and resolves the namespace
func setupStore(cmd *cobra.Command, _ []string) (err error) {
	if kvStore, err = util.OpenStore(cmd); err != nil {
		return err
	}
	namespace, err = util.GetNamespace()
	return err
}
