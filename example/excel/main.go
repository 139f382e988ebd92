package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ideamans/go-cadastro"
	"github.com/ideamans/go-cadastro/adapters/excel"
)

const tab = "Cadastro"

func main() {
	ctx := context.Background()

	// Excel store configuration
	store, err := excel.New(&excel.Config{FilePath: "./example_data.xlsx"})
	if err != nil {
		log.Fatalf("Failed to create Excel store: %v", err)
	}
	if err := store.CreateTab(ctx, tab, []string{"Nome", "Email", "Observações"}); err != nil {
		log.Fatalf("Failed to create tab: %v", err)
	}

	// Create client using recommended defaults for Excel; a nil local store
	// keeps the cache in memory
	client, err := cadastro.New(cadastro.Backend{Records: store, Versions: store}, nil, excel.DefaultClientConfig())
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing client: %v", err)
		}
	}()

	// 1. Add some records
	fmt.Println("Adding records...")
	people := []map[string]string{
		{"nome": "Alice Gonçalves", "email": "alice@example.com", "observacoes": "Engenharia"},
		{"nome": "Bruno Souza", "email": "bruno@example.com", "observacoes": "Marketing"},
		{"nome": "Célia Brandão", "email": "celia@example.com", "observacoes": "Engenharia"},
	}
	for _, p := range people {
		r, err := client.Create(ctx, tab, p, nil)
		if err != nil {
			log.Printf("Failed to create record: %v", err)
			continue
		}
		fmt.Printf("Added %s (Row %d)\n", r.Get("Nome"), r.RowIndex)
	}

	// 2. Search ignores case and accents
	fmt.Println("\nSearching for engineers...")
	results, err := client.Search(ctx, tab, cadastro.Query{Text: "engenharia"})
	if err != nil {
		log.Printf("Search failed: %v", err)
	}
	for _, r := range results {
		fmt.Printf("- %s <%s>\n", r.Get("Nome"), r.Get("Email"))
	}

	// 3. Update a record
	fmt.Println("\nMoving Bruno to sales...")
	if _, err := client.Update(ctx, tab, 2, map[string]string{"Observações": "Vendas"}, nil); err != nil {
		log.Printf("Update failed: %v", err)
	}

	// 4. Soft delete keeps the row, filled with "-"
	fmt.Println("\nDeleting Célia...")
	if err := client.SoftDelete(ctx, tab, 3); err != nil {
		log.Printf("Delete failed: %v", err)
	}

	records, _, err := client.Refresh(ctx, tab, true)
	if err != nil {
		log.Fatalf("Refresh failed: %v", err)
	}
	fmt.Println("\nActive records:")
	for _, r := range records {
		img := client.ResolveImage(ctx, r)
		fmt.Printf("- [%s] %s: %s\n", img.Placeholder, r.Get("Nome"), r.Get("Observações"))
	}

	fmt.Println("\nExample completed. Check ./example_data.xlsx for the data.")
}
