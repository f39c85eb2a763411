package admin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/nsKV/cmd/util"
	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/db/backup"
	"github.com/ValentinKolb/nsKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	handle *store.Handle

	// Commands holds the store wide commands, they are added to the root command
	Commands = []*cobra.Command{infoCmd, healthCmd, statsCmd, exportCmd, importCmd}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints engine metadata and size estimates as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(handle.Info())
		},
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Prints the health records of the store as JSON",
		Long:  util.WrapString("Prints the health records of the store as JSON. Exits with an error if any record has the severity WARN."),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records := db.HealthOf(handle)
			if err := printJSON(records); err != nil {
				return err
			}
			for _, r := range records {
				if r.Severity == db.HealthWarn {
					return fmt.Errorf("store is unhealthy: %s", r.Message)
				}
			}
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Counts every namespace and prints the operation metrics",
		Long:  util.WrapString("Counts the entries of every namespace and prints the metrics collected while doing so in the Prometheus text format."),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var total int64
			for _, ns := range db.Namespaces() {
				n, err := handle.Size(ns)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Printf("%-22s %d\n", ns, n)
				}
				total += n
			}
			fmt.Printf("%-22s %d\n\n", "TOTAL", total)

			if m := handle.Metered(); m != nil {
				m.WritePrometheus(os.Stdout)
			}
			return nil
		},
	}
	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Writes a dump of the store to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespaces, err := getNamespaces()
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			n, err := backup.Save(handle, f, namespaces...)
			if cErr := f.Close(); err == nil {
				err = cErr
			}
			if err != nil {
				return err
			}
			fmt.Printf("exported %d entries to %s\n", n, args[0])
			return nil
		},
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Loads a dump into the store",
		Long:  util.WrapString("Loads a dump into the store. Existing keys are overwritten, other keys are kept."),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := backup.Load(handle, f)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d entries from %s\n", n, args[0])
			return nil
		},
	}
)

func init() {
	for _, c := range Commands {
		c.PersistentPreRunE = setupStore
		c.PersistentPostRunE = util.CloseStore
	}

	key := "namespaces"
	exportCmd.Flags().String(key, "", util.WrapString("Comma separated list of namespaces to export (default all)"))
}

func setupStore(cmd *cobra.Command, _ []string) (err error) {
	handle, err = util.OpenStore(cmd)
	return err
}

// getNamespaces parses the namespaces flag, empty means all
func getNamespaces() ([]db.Namespace, error) {
	var out []db.Namespace
	for _, part := range strings.Split(viper.GetString("namespaces"), ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		ns := db.Namespace(part)
		if !ns.Valid() {
			return nil, db.NewError(db.ErrCInvalidArgument, "unknown namespace %q", part)
		}
		out = append(out, ns)
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
