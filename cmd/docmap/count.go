package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/ports"
)

var countCmd = &cobra.Command{
	Use:   "count <identity>",
	Short: "Count stored documents of one type",
	Long: `Count the stored documents of a registered document type.

Examples:
  docmap count task
  docmap count task --owner 00000000000000000000beef`,
	Args: cobra.ExactArgs(1),
	RunE: runCount,
}

var countOwner string

func init() {
	rootCmd.AddCommand(countCmd)

	countCmd.Flags().StringVar(&countOwner, "owner", "", "only documents owned by this account id")
}

func runCount(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	filter := ports.Filter{}
	if countOwner != "" {
		filter["owner_id"] = countOwner
	}

	n, err := app.Service.Count(cmd.Context(), args[0], filter)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}
