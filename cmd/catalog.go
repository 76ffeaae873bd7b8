package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/voltree/internal/catalog"
)

var (
	catalogLimit   int
	catalogHistory string
	catalogVerify  string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog [catalog.db]",
	Short: "List document writes recorded in the catalog",
	Long: `List document writes recorded in the catalog, newest first. Without an
argument the catalog path comes from the configuration.

--verify DIR compares the last recorded checksum of every document with the
file under DIR, the directory that contains the volume.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else if cfg.Catalog != nil {
			path = cfg.Catalog.Path
		}
		if path == "" {
			return fmt.Errorf("no catalog given and none configured")
		}
		c, err := catalog.Open(path)
		if err != nil {
			return err
		}
		defer c.Close()

		w := cmd.OutOrStdout()
		if catalogVerify != "" {
			bad, err := c.Verify(osfs.New(catalogVerify))
			if err != nil {
				return err
			}
			for _, m := range bad {
				if m.Actual == "" {
					fmt.Fprintf(w, "missing\t%s\n", m.Path)
				} else {
					fmt.Fprintf(w, "modified\t%s\trecorded %s, found %s\n", m.Path, short(m.Checksum), short(m.Actual))
				}
			}
			if len(bad) > 0 {
				return fmt.Errorf("%d documents differ from the catalog", len(bad))
			}
			fmt.Fprintln(w, "all documents match the catalog")
			return nil
		}

		var entries []catalog.Entry
		if catalogHistory != "" {
			entries, err = c.History(catalogHistory)
		} else {
			entries, err = c.Documents(catalogLimit)
		}
		if err != nil {
			return err
		}
		printEntries(w, entries)
		return nil
	},
}

func init() {
	catalogCmd.Flags().IntVarP(&catalogLimit, "limit", "n", 50, "Number of writes to list (0 for all)")
	catalogCmd.Flags().StringVar(&catalogHistory, "history", "", "List every write of one document path")
	catalogCmd.Flags().StringVar(&catalogVerify, "verify", "", "Verify documents under this directory against the catalog")
	rootCmd.AddCommand(catalogCmd)
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func printEntries(w io.Writer, entries []catalog.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%-16s %9s  %s  %-10s %s\n",
			humanize.Time(e.WrittenAt), humanize.Bytes(uint64(e.Size)), short(e.Checksum), e.Tag, e.Path)
	}
}
