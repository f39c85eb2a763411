package kv

import (
	"fmt"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	listLimit int

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if resp, ok, err := kvStore.Get(namespace, key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, ok, resp)
			}
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			if existed, err := kvStore.Put(namespace, key, value); err != nil {
				return err
			} else {
				fmt.Printf("put successfully (replaced=%t)\n", existed)
			}
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Removes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if existed, err := kvStore.Remove(namespace, key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, removed=%t\n", key, existed)
			}
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if found, err := kvStore.Contains(namespace, key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t\n", key, found)
			}
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of entries in the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n, err := kvStore.Size(namespace); err != nil {
				return err
			} else {
				fmt.Printf("namespace=%s, size=%d\n", namespace, n)
			}
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the entries of the namespace in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stop := errors.New("limit reached")
			n := 0
			err := db.ForEach(kvStore, namespace, func(item db.TransactionItem) error {
				if listLimit > 0 && n >= listLimit {
					return stop
				}
				fmt.Printf("%s=%s\n", item.Key, item.Value)
				n++
				return nil
			})
			if err != nil && !errors.Is(err, stop) {
				return err
			}
			fmt.Printf("(%d entries)\n", n)
			return nil
		},
	}
	truncateCmd = &cobra.Command{
		Use:   "truncate",
		Short: "Removes all entries of the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := kvStore.Truncate(namespace); err != nil {
				return err
			}
			fmt.Printf("truncated %s\n", namespace)
			return nil
		},
	}
)

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of entries to print (0 for all)")
}
