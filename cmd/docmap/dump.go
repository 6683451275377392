package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/pkg/doctree"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <identity>",
	Short: "Print stored documents of one type",
	Long: `Print the stored documents of a registered document type, as JSON
trees or as flat path = value lines.

Examples:
  docmap dump task
  docmap dump task --owner 00000000000000000000beef
  docmap dump task --flat --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

var (
	dumpOwner string
	dumpLimit int64
	dumpFlat  bool
)

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVar(&dumpOwner, "owner", "", "only documents owned by this account id")
	dumpCmd.Flags().Int64Var(&dumpLimit, "limit", 0, "print at most this many documents (0 = all)")
	dumpCmd.Flags().BoolVar(&dumpFlat, "flat", false, "render flat path = value lines instead of JSON")
}

func runDump(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var pipeline []map[string]any
	if dumpOwner != "" {
		pipeline = append(pipeline, map[string]any{"$match": map[string]any{"owner_id": dumpOwner}})
	}
	if dumpLimit > 0 {
		pipeline = append(pipeline, map[string]any{"$limit": dumpLimit})
	}

	docs, err := app.Service.Aggregate(cmd.Context(), args[0], pipeline)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return nil
	}

	for i, doc := range docs {
		if dumpFlat {
			if i > 0 {
				fmt.Println()
			}
			printFlat(doc)
			continue
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("render document: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

// printFlat renders one document as sorted path = value lines, in the
// store's flat path form.
func printFlat(doc map[string]any) {
	var lines []string
	flatten("", doc, &lines)
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Println(l)
	}
}

func flatten(prefix string, v any, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := doctree.EscapeKey(k)
			if prefix != "" {
				p = prefix + "." + p
			}
			flatten(p, child, out)
		}
	case []any:
		for i, child := range t {
			p := strconv.Itoa(i)
			if prefix != "" {
				p = prefix + "." + p
			}
			flatten(p, child, out)
		}
	default:
		*out = append(*out, fmt.Sprintf("%s = %v", prefix, v))
	}
}
