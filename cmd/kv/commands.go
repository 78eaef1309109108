package kv

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ansvik/stash/lib/driver"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			var opts driver.Options
			if ttl, _ := cmd.Flags().GetInt64("ttl"); ttl > 0 {
				opts = driver.Options{"ttl": ttl}
			}
			if err := remote.Set(cmd.Context(), key, value, opts); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, err := remote.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%v\n", key, value != nil, value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := remote.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			found, err := remote.Has(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [base]",
		Short: "Lists all keys under a base",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := ""
			if len(args) == 1 {
				base = args[0]
			}
			var opts driver.Options
			if depth, _ := cmd.Flags().GetInt("depth"); depth >= 0 {
				opts = driver.Options{"maxDepth": depth}
			}
			listed, err := remote.ListKeys(cmd.Context(), base, opts)
			if err != nil {
				return err
			}
			for _, k := range listed {
				fmt.Println(k)
			}
			return nil
		},
	}
	metaCmd = &cobra.Command{
		Use:   "meta [key]",
		Short: "Reads the metadata record of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := remote.GetMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if meta == nil {
				fmt.Println("no metadata")
				return nil
			}
			b, err := json.MarshalIndent(meta, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
)

func init() {
	setCmd.Flags().Int64("ttl", 0, "Time to live in seconds (0 = no expiry)")
	listCmd.Flags().Int("depth", -1, "Limit enumeration depth (-1 = unlimited)")
}
