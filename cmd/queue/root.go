package queue

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/nsKV/cmd/util"
	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/queue"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	q         *queue.Queue
	listLimit int

	// QueueCommands represents the queue command group
	QueueCommands = &cobra.Command{
		Use:                "queue",
		Short:              "Perform operations on the circular queue of a namespace",
		PersistentPreRunE:  setupQueue,
		PersistentPostRunE: util.CloseStore,
	}

	addCmd = &cobra.Command{
		Use:   "add [value...]",
		Short: "Appends values, the last one becomes the head",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := q.Add(args...); err != nil {
				return err
			}
			fmt.Printf("added %d entries (size=%d)\n", len(args), q.Size())
			return nil
		},
	}
	headCmd = &cobra.Command{
		Use:   "head",
		Short: "Reads the newest entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printEntry(q.Head())
		},
	}
	tailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Reads the oldest entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printEntry(q.Tail())
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of entries and the positions of head and tail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tail, head := q.Positions()
			fmt.Printf("namespace=%s, size=%d, tail=%s, head=%s, max=%d\n", q.Namespace(), q.Size(), tail, head, q.MaxSize())
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 0
			it := q.Iterator()
			for it.Next() {
				if listLimit > 0 && n >= listLimit {
					break
				}
				fmt.Println(it.Value())
				n++
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Printf("(%d entries)\n", n)
			return nil
		},
	}
	removeTailCmd = &cobra.Command{
		Use:   "remove-tail [n]",
		Short: "Removes the n oldest entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("n must be a number: %w", err)
			}
			if err := q.RemoveTail(n); err != nil {
				return err
			}
			fmt.Printf("removed (size=%d)\n", q.Size())
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes all entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := q.Clear(); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		},
	}
)

func init() {
	// Set default namespace for queue operations (different from KV default)
	QueueCommands.PersistentFlags().String("namespace", string(db.NsEventLog), util.WrapString("The namespace holding the queue"))
	QueueCommands.PersistentFlags().Uint64("max-size", queue.DefaultMaxSize, util.WrapString("The capacity of the queue, adding beyond it evicts the oldest entries"))

	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of entries to print (0 for all)")

	// Add subcommands
	QueueCommands.AddCommand(addCmd)
	QueueCommands.AddCommand(headCmd)
	QueueCommands.AddCommand(tailCmd)
	QueueCommands.AddCommand(sizeCmd)
	QueueCommands.AddCommand(listCmd)
	QueueCommands.AddCommand(removeTailCmd)
	QueueCommands.AddCommand(clearCmd)
}

// setupQueue opens the configured store and the queue in the namespace
func setupQueue(cmd *cobra.Command, _ []string) error {
	s, err := util.OpenStore(cmd)
	if err != nil {
		return err
	}
	ns, err := util.GetNamespace()
	if err != nil {
		return err
	}
	q, err = queue.Open(s, ns, queue.WithMaxSize(viper.GetUint64("max-size")))
	return err
}

func printEntry(value string, found bool, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("found=%t, value=%s\n", found, value)
	return nil
}
