package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentic-research/voltree/internal/volume"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [volume-dir] [query]",
	Short: "Show nodes with their attributes, documents and children",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openVolume(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		query := ""
		if len(args) == 2 {
			query = args[1]
		}
		found, err := s.targets(query)
		if err != nil {
			return err
		}
		for i, e := range found {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			s.describe(cmd.OutOrStdout(), e)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [volume-dir] [query]",
	Short: "List the nodes matching a path query",
	Long: `List the nodes matching a path query such as
  Block[@Name='TEM']/Section/Channel
Steps are tag names or *, each with optional [@Attr] or [@Attr='value']
predicates. Sub-documents are loaded as the query reaches them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openVolume(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		found, err := s.vol.FindAll(args[1])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range found {
			if p := fullPath(e); p != "" {
				fmt.Fprintf(w, "%s\t%s\n", p, e)
			} else {
				fmt.Fprintln(w, e)
			}
		}
		if len(found) == 0 {
			return fmt.Errorf("%s: %w", args[1], volume.ErrNotFound)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(queryCmd)
}

func (s *session) describe(w io.Writer, e volume.Element) {
	n := e.Base()
	fmt.Fprintf(w, "%s\n", n.Tag())
	if p := fullPath(e); p != "" {
		fmt.Fprintf(w, "  path:      %s\n", p)
	}
	if c, ok := e.(volume.Container); ok && c.SaveAsLinked() {
		doc := s.mgr.DocumentPath(c.FullPath())
		if fi, err := s.mgr.Filesystem().Stat(doc); err == nil {
			fmt.Fprintf(w, "  document:  %s (%s, written %s)\n", doc, humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
		} else {
			fmt.Fprintf(w, "  document:  %s (not written)\n", doc)
		}
	}
	if e.NeedsValidation() {
		fmt.Fprintln(w, "  validated: no")
	} else {
		fmt.Fprintln(w, "  validated: yes")
	}
	for _, kv := range n.Attrs() {
		fmt.Fprintf(w, "  @%s = %s\n", kv[0], kv[1])
	}
	if text := n.Text(); text != "" {
		fmt.Fprintf(w, "  text:      %s\n", strings.ReplaceAll(text, "\n", " "))
	}

	counts := map[string]int{}
	for _, c := range n.Children() {
		counts[c.Base().Tag()]++
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(w, "  children:  %s x%s\n", tag, humanize.Comma(int64(counts[tag])))
	}
}
