package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lucasew/edgecache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newClient() *edgecache.Client {
	return edgecache.NewClient(nil, viper.GetString("server"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var syncCmd = &cobra.Command{
	Use:   "sync <tag>",
	Short: "Replays the pending writes of a tag now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := newClient().Sync(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <tag> <json>",
	Short: "Queues a write for later delivery",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := json.RawMessage(args[1])
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}
		id, err := newClient().Enqueue(cmd.Context(), args[0], payload)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, id)
		return err
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending <tag>",
	Short: "Lists the pending writes of a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := newClient().Pending(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(recs)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Shows a notification on every connected client window",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		url, _ := cmd.Flags().GetString("url")
		res, err := newClient().Push(cmd.Context(), edgecache.PushMessage{Title: title, Body: body, URL: url})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(os.Stdout, "shown on %d window(s)\n", res.Windows)
		return err
	},
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Lists cache partitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		parts, err := newClient().Partitions(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENTRIES\tCURRENT")
		for _, p := range parts {
			fmt.Fprintf(w, "%s\t%d\t%t\n", p.Name, p.Entries, p.Current)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, enqueueCmd, pendingCmd, pushCmd, partitionsCmd)

	pushCmd.Flags().String("title", "", "Notification title (required)")
	pushCmd.Flags().String("body", "", "Notification body")
	pushCmd.Flags().String("url", "", "URL opened when the notification is clicked (default /)")
	_ = pushCmd.MarkFlagRequired("title")
}
