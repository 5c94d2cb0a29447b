// Schema Generator
//
// Generates JSON Schema files from the Go webhook payload and API types so
// receiver implementations can validate events without importing this module.
//
// Usage:
//
//	go run cmd/schema-gen/main.go
//
// Output:
//
//	schemas/webhooks.json
//	schemas/api.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/obsrv/monitor-service/internal/handlers"
	"github.com/obsrv/monitor-service/internal/webhook"
)

// SchemaGroup represents a group of related schemas
type SchemaGroup struct {
	Name   string
	Types  []any
	Output string
}

func main() {
	outputDir := "schemas"

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	groups := []SchemaGroup{
		{
			Name: "webhooks",
			Types: []any{
				webhook.WebsiteInfo{},
				webhook.ProductInfo{},
				webhook.PriceChangeDetails{},
				webhook.StockChangeDetails{},
				webhook.PriceChangeMetadata{},
				webhook.StockChangeMetadata{},
				webhook.PriceChangeEvent{},
				webhook.StockChangeEvent{},
			},
			Output: "webhooks.json",
		},
		{
			Name: "api",
			Types: []any{
				handlers.ListCrawlsRequest{},
				handlers.ListCrawlsResponse{},
				handlers.CrawlRun{},
				handlers.ListDeliveriesRequest{},
				handlers.ListDeliveriesResponse{},
				handlers.DeliveryAttempt{},
				handlers.ListWebsitesResponse{},
				handlers.HealthResponse{},
			},
			Output: "api.json",
		},
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}

	for _, group := range groups {
		definitions := make(map[string]any)

		for _, t := range group.Types {
			schema := reflector.Reflect(t)
			name := typeName(t)
			definitions[name] = schema
		}

		doc := map[string]any{
			"$schema":     "https://json-schema.org/draft/2020-12/schema",
			"title":       group.Name,
			"definitions": definitions,
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to marshal %s schemas: %v\n", group.Name, err)
			os.Exit(1)
		}

		outPath := filepath.Join(outputDir, group.Output)
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outPath, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s (%d types)\n", outPath, len(group.Types))
	}
}

// typeName derives the schema key from the Go type name.
func typeName(t any) string {
	full := fmt.Sprintf("%T", t)
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		return full[idx+1:]
	}
	return full
}
