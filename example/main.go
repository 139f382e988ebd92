package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"google.golang.org/api/option"

	"github.com/ideamans/go-cadastro"
	"github.com/ideamans/go-cadastro/adapters/googleauth"
	"github.com/ideamans/go-cadastro/adapters/googledrive"
	"github.com/ideamans/go-cadastro/adapters/googlesheets"
	"github.com/ideamans/go-cadastro/adapters/localcache"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	// Authenticate as a service account; the spreadsheet and the Drive
	// folder must be shared with its email
	ts, err := googleauth.CreateTokenSource(ctx, "./service-account.json", googleauth.DefaultScopes...)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	opts := []option.ClientOption{option.WithTokenSource(ts)}

	sheetsStore, err := googlesheets.NewStore(ctx, googlesheets.Config{SpreadsheetID: "your-spreadsheet-id"}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create sheets store: %w", err)
	}
	driveStore, err := googledrive.NewStore(ctx, googledrive.Config{FolderID: "your-folder-id"}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create drive store: %w", err)
	}

	// The SQLite cache lets the next run list records before any request
	local, err := localcache.Open(localcache.Config{Path: "./cadastro-cache.db"})
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer local.Close()

	backend := cadastro.Backend{Records: sheetsStore, Versions: sheetsStore, Blobs: driveStore}
	client, err := cadastro.New(backend, local, googlesheets.DefaultClientConfig())
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	// Create a record with a photo
	photo, err := os.ReadFile("./foto.jpg")
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	created, err := client.Create(ctx, "Cadastro", map[string]string{
		"nome":  "Maria Silva",
		"email": "maria@example.com",
	}, &cadastro.Image{Name: "foto.jpg", MimeType: "image/jpeg", Data: photo})
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	fmt.Printf("Added record at row %d\n", created.RowIndex)

	// List serves the cache and reconciles in the background
	records, err := client.List(ctx, "Cadastro", func(fresh []*cadastro.Record) {
		fmt.Printf("Sheet changed remotely, now %d records\n", len(fresh))
	})
	if err != nil {
		return fmt.Errorf("failed to list: %w", err)
	}
	for _, r := range records {
		img := client.ResolveImage(ctx, r)
		if img.IsPlaceholder() {
			fmt.Printf("  Row %d: %s [%s]\n", r.RowIndex, r.Get("Nome"), img.Placeholder)
		} else {
			fmt.Printf("  Row %d: %s (%s, %d bytes)\n", r.RowIndex, r.Get("Nome"), img.MimeType, len(img.Data))
		}
	}

	client.Wait()
	return nil
}
