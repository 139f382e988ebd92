package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ideamans/go-cadastro"
	"github.com/ideamans/go-cadastro/internal/app"
)

func (c *cli) listCmd() *cobra.Command {
	var (
		search string
		limit  int
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active records of the tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(rt *app.Runtime) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()
				q := cadastro.Query{Text: search, Limit: limit}

				records, err := rt.Client.Search(ctx, c.config.Tab, q)
				if err != nil {
					return err
				}
				printRecords(out, records)
				if !watch {
					return nil
				}

				_, err = rt.Client.Watch(c.config.Tab, func(fresh []*cadastro.Record) {
					fmt.Fprintln(out, "\nThe sheet changed:")
					if len(fresh) > 0 {
						fresh = cadastro.ApplyQuery(fresh, cadastro.ResolveFields(fresh[0].Columns(), nil), q)
					}
					printRecords(out, fresh)
				})
				if err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by name, email or notes, ignoring accents")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and print the records when the sheet changes")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ROW",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRow(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(rt *app.Runtime) error {
				r, err := rt.Client.Lookup(cmd.Context(), c.config.Tab, row)
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

// recordFlags are the field flags shared by create and update.
type recordFlags struct {
	name  string
	email string
	notes string
	photo string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "name")
	cmd.Flags().StringVar(&f.email, "email", "", "email address")
	cmd.Flags().StringVar(&f.notes, "notes", "", "notes")
	cmd.Flags().StringVar(&f.photo, "photo", "", "image file to upload")
}

// fields returns only the values whose flag was given.
func (f *recordFlags) fields(cmd *cobra.Command) map[string]string {
	fields := make(map[string]string)
	set := func(flag string, field cadastro.Field, v string) {
		if cmd.Flags().Changed(flag) {
			fields[string(field)] = v
		}
	}
	set("name", cadastro.FieldName, f.name)
	set("email", cadastro.FieldEmail, f.email)
	set("notes", cadastro.FieldNotes, f.notes)
	return fields
}

func (c *cli) createCmd() *cobra.Command {
	var f recordFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(f.photo)
			if err != nil {
				return err
			}
			return c.run(cmd, func(rt *app.Runtime) error {
				r, err := rt.Client.Create(cmd.Context(), c.config.Tab, f.fields(cmd), img)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created row %d\n", r.RowIndex)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) updateCmd() *cobra.Command {
	var (
		f      recordFlags
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "update ROW",
		Short: "Change fields or the photo of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRow(args[0])
			if err != nil {
				return err
			}
			img, err := readImage(f.photo)
			if err != nil {
				return err
			}
			var change *cadastro.ImageChange
			if img != nil || remove {
				change = &cadastro.ImageChange{Remove: remove, Replace: img}
			}
			return c.run(cmd, func(rt *app.Runtime) error {
				r, err := rt.Client.Update(cmd.Context(), c.config.Tab, row, f.fields(cmd), change)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated row %d\n", r.RowIndex)
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&remove, "remove-photo", false, "drop the current photo")
	cmd.MarkFlagsMutuallyExclusive("photo", "remove-photo")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ROW",
		Short: "Soft delete a record and remove its photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRow(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(rt *app.Runtime) error {
				if err := rt.Client.SoftDelete(cmd.Context(), c.config.Tab, row); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted row %d\n", row)
				return nil
			})
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile the local cache with the sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(rt *app.Runtime) error {
				records, changed, err := rt.Client.Refresh(cmd.Context(), c.config.Tab, force)
				if err != nil {
					return err
				}
				if changed {
					fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d active records\n", len(records))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Up to date, %d active records\n", len(records))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "refetch without checking the version")
	return cmd
}

func (c *cli) imageCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "image ROW",
		Short: "Save the photo of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRow(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(rt *app.Runtime) error {
				r, err := rt.Client.Lookup(cmd.Context(), c.config.Tab, row)
				if err != nil {
					return err
				}
				img := rt.Client.ResolveImage(cmd.Context(), r)
				if img.IsPlaceholder() {
					fmt.Fprintf(cmd.OutOrStdout(), "No photo, placeholder %q\n", img.Placeholder)
					return nil
				}
				path := output
				if path == "" {
					path = fmt.Sprintf("row-%d%s", row, imageExt(img.MimeType))
				}
				if err := os.WriteFile(path, img.Data, 0644); err != nil {
					return fmt.Errorf("failed to write image: %w", err)
				}
				source := "remote"
				if img.FromCache {
					source = "cache"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s, %d bytes from %s)\n", path, img.MimeType, len(img.Data), source)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default: row-N.<ext>)")
	return cmd
}

func parseRow(arg string) (int, error) {
	row, err := strconv.Atoi(arg)
	if err != nil || row < 1 {
		return 0, fmt.Errorf("%w: row must be a positive number, got %q", cadastro.ErrInvalidArgument, arg)
	}
	return row, nil
}

func readImage(path string) (*cadastro.Image, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	return &cadastro.Image{
		Name:     filepath.Base(path),
		MimeType: http.DetectContentType(data),
		Data:     data,
	}, nil
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func printRecords(w io.Writer, records []*cadastro.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records")
		return
	}
	fm := cadastro.ResolveFields(records[0].Columns(), nil)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tNAME\tEMAIL\tNOTES")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.RowIndex,
			fm.Value(r, cadastro.FieldName), fm.Value(r, cadastro.FieldEmail), fm.Value(r, cadastro.FieldNotes))
	}
	_ = tw.Flush()
}

func printRecord(w io.Writer, r *cadastro.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Row\t%d\n", r.RowIndex)
	for _, col := range r.Columns() {
		fmt.Fprintf(tw, "%s\t%s\n", col, r.Values[col])
	}
	_ = tw.Flush()
}
