package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideamans/go-cadastro/adapters/localcache"
)

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local cache",
	}
	cmd.AddCommand(c.cacheStatsCmd(), c.cacheClearCmd())
	return cmd
}

// openCache opens only the cache database, so it works without network
// credentials.
func (c *cli) openCache() (*localcache.Store, error) {
	return localcache.Open(localcache.Config{Path: c.config.CachePath})
}

func (c *cli) cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the local cache holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openCache()
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache: %s\n", c.config.CachePath)
			for _, tab := range st.TabNames() {
				fmt.Fprintf(out, "  %s: %d records\n", tab, st.Tabs[tab])
			}
			fmt.Fprintf(out, "  images: %d (%d bytes)\n", st.Blobs, st.BlobBytes)
			fmt.Fprintf(out, "  version markers: %d\n", st.Markers)
			return nil
		},
	}
}

func (c *cli) cacheClearCmd() *cobra.Command {
	var records, images, markers bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the local cache; without flags everything is cleared",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := !records && !images && !markers
			store, err := c.openCache()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if all || records {
				if err := store.ClearRecords(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Cleared cached records")
			}
			if all || images {
				if err := store.ClearBlobs(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Cleared cached images")
			}
			if all || markers {
				if err := store.ClearMarkers(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Cleared version markers")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&records, "records", false, "clear cached records")
	cmd.Flags().BoolVar(&images, "images", false, "clear cached images")
	cmd.Flags().BoolVar(&markers, "markers", false, "clear version markers")
	return cmd
}
