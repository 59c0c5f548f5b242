package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"foodcore/internal/pack"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var (
		dbPath   string
		asJSON   bool
		listOnly bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [node-id]",
		Short: "Examine a packed database",
		Long: `Inspect opens a packed SQLite database and prints summary counts, the
node ID list, or one node with its legal transforms, profiles and
provenance.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID := ""
			if len(args) == 1 {
				nodeID = args[0]
			}
			return runInspect(opts, dbPath, nodeID, asJSON, listOnly)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Packed database path (overrides config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print summary as JSON")
	cmd.Flags().BoolVar(&listOnly, "list", false, "Print node IDs, one per line")

	return cmd
}

func runInspect(opts *rootOptions, dbPath, nodeID string, asJSON, listOnly bool) error {
	cfg, _, err := opts.load()
	if err != nil {
		return err
	}
	if dbPath == "" {
		dbPath = cfg.Pack.Out
	}

	reader, err := pack.Open(dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	switch {
	case nodeID != "":
		detail, err := reader.Node(nodeID)
		if err != nil {
			return err
		}
		return printJSON(detail)

	case listOnly:
		ids, err := reader.NodeIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil

	default:
		counts, err := reader.Counts()
		if err != nil {
			return err
		}
		fingerprint, err := reader.Fingerprint()
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(struct {
				Fingerprint string      `json:"fingerprint"`
				Counts      pack.Counts `json:"counts"`
			}{fingerprint, counts})
		}
		fmt.Printf("fingerprint  %s\n", fingerprint)
		fmt.Printf("taxa         %d\n", counts.Taxa)
		fmt.Printf("parts        %d\n", counts.Parts)
		fmt.Printf("transforms   %d\n", counts.Transforms)
		fmt.Printf("pairings     %d\n", counts.Pairings)
		fmt.Printf("nodes        %d\n", counts.Nodes)
		fmt.Printf("profiles     %d\n", counts.Profiles)
		fmt.Printf("mappings     %d (%d unmapped)\n", counts.Mappings, counts.Unmapped)
		fmt.Printf("search terms %d\n", counts.SearchTerms)
		return nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
