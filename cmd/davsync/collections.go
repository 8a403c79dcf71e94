package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/cyp0633/libcaldora-sync/cache"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/cyp0633/libcaldora-sync/syncengine"
	"github.com/spf13/cobra"
)

// findCollection matches arg against the cached collections of kind by URL
// or case-insensitive display name. An unknown absolute URL is used as is.
func findCollection(c *cache.Cache, kind resource.CollectionKind, arg string) (resource.Collection, error) {
	for _, col := range c.Collections(kind) {
		if col.URL == arg || strings.EqualFold(col.DisplayName, arg) {
			return col, nil
		}
	}
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return resource.Stub(kind, arg), nil
	}
	return resource.Collection{}, fmt.Errorf("no %s named %q in the cache; run `davsync collections --refresh` first", kind, arg)
}

type collectionView struct {
	Kind        string `json:"kind" yaml:"kind"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
	URL         string `json:"url" yaml:"url"`
}

func newCollectionsCmd(c *cli) *cobra.Command {
	var (
		output  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List calendars and address books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if refresh {
				// Discovery and replay only; resources stay as cached.
				if _, err := rt.engine.FullSync(cmd.Context(), syncengine.FullSyncOptions{SkipEvents: true, SkipContacts: true}); err != nil {
					return err
				}
			}

			var views []collectionView
			for _, kind := range []resource.CollectionKind{resource.KindCalendar, resource.KindAddressBook} {
				for _, col := range rt.engine.Cache().Collections(kind) {
					views = append(views, collectionView{
						Kind:        string(col.Kind),
						DisplayName: col.DisplayName,
						Color:       col.Color,
						URL:         col.URL,
					})
				}
			}
			return printCollections(cmd.OutOrStdout(), output, views)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "discover collections on the server first")

	cmd.AddCommand(newCollectionSetCmd(c))
	return cmd
}

func newCollectionSetCmd(c *cli) *cobra.Command {
	var name, color string
	var addressBook bool
	cmd := &cobra.Command{
		Use:   "set <collection>",
		Short: "Rename or recolor a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var changes resource.CollectionChanges
			if cmd.Flags().Changed("name") {
				changes.DisplayName = &name
			}
			if cmd.Flags().Changed("color") {
				changes.Color = &color
			}
			if changes.Empty() {
				return fmt.Errorf("nothing to change; pass --name or --color")
			}

			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			kind := resource.KindCalendar
			if addressBook {
				kind = resource.KindAddressBook
			}
			col, err := findCollection(rt.engine.Cache(), kind, args[0])
			if err != nil {
				return err
			}
			updated, err := rt.engine.UpdateCollection(cmd.Context(), col, changes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s%s\n", collectionLabel(updated), queuedNote(rt))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&color, "color", "", "new color, e.g. #FF9500")
	cmd.Flags().BoolVar(&addressBook, "addressbook", false, "the collection is an address book")
	return cmd
}

// queuedNote tells the user when a write is waiting for the server.
func queuedNote(rt *runtime) string {
	if n := rt.engine.Queue().Len(); n > 0 {
		return warnStyle.Render(fmt.Sprintf(" (%d change(s) pending replay)", n))
	}
	return ""
}

func printCollections(w io.Writer, format string, views []collectionView) error {
	if done, err := writeStructured(w, format, views); done {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No collections cached."))
		return nil
	}
	t := newTable("KIND", "NAME", "COLOR", "URL")
	for _, v := range views {
		t.Row(v.Kind, v.DisplayName, v.Color, v.URL)
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
