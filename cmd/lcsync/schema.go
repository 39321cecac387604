package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/schema"
	"github.com/spinneyio/lambdaconnect-go/internal/transport"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Fetch and summarize the server data model",
	RunE:  runSchema,
}

var schemaRaw bool

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().BoolVar(&schemaRaw, "raw", false,
		"Print the raw XML model document")
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	t := transport.New(&cfg.API, logger)
	defer t.Close()
	if token := loadToken(); token != "" {
		t.SetToken(token)
	}

	var resp models.ModelResponse
	if err := t.GetJSON(ctx, cfg.API.DataModelPath, &resp); err != nil {
		printError("Fetch failed: %v", err)
		return err
	}

	if schemaRaw {
		printInfo("%s", resp.Model)
		return nil
	}

	resolved, err := schema.Translate([]byte(resp.Model))
	if err != nil {
		printError("Translation failed: %v", err)
		return err
	}

	if jsonOutput {
		printJSON(map[string]any{
			"hash":     resolved.Hash,
			"entities": resolved.Validation.Order,
		})
		return nil
	}

	printInfo("Schema hash: %s", resolved.Hash)
	for _, e := range resolved.Validation.Order {
		sync := ""
		if e.Syncable {
			sync = " (syncable)"
		}
		printInfo("%s%s", e.Name, sync)
		for _, a := range e.AttrOrder {
			opt := "required"
			if a.Optional {
				opt = "optional"
			}
			printInfo("  %-24s %-8s %s", a.Name, a.Type, opt)
		}
		for _, r := range e.RelOrder {
			card := "to-one"
			if r.ToMany {
				card = "to-many"
			}
			printInfo("  %-24s -> %s (%s)", r.Name, r.Destination, card)
		}
	}
	return nil
}
