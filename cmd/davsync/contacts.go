package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/spf13/cobra"
)

func newContactsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Read and edit address book contacts",
	}

	var output string
	list := &cobra.Command{
		Use:   "list <addressbook>",
		Short: "List contacts of an address book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			book, err := findCollection(rt.engine.Cache(), resource.KindAddressBook, args[0])
			if err != nil {
				return err
			}
			contacts, err := rt.engine.Contacts(cmd.Context(), book)
			if err != nil {
				return err
			}
			return printContacts(cmd.OutOrStdout(), output, contacts)
		},
	}
	list.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")

	var ct resource.Contact
	add := &cobra.Command{
		Use:   "add <addressbook>",
		Short: "Create a contact; it is queued when the server is unreachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			book, err := findCollection(rt.engine.Cache(), resource.KindAddressBook, args[0])
			if err != nil {
				return err
			}
			created, err := rt.engine.CreateContact(cmd.Context(), book, ct)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s%s\n", created.UID, queuedNote(rt))
			return nil
		},
	}
	add.Flags().StringVar(&ct.FullName, "name", "", "full name")
	add.Flags().StringVar(&ct.Email, "email", "", "email address")
	add.Flags().StringVar(&ct.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&ct.Organization, "org", "", "organization")
	add.Flags().StringVar(&ct.Note, "note", "", "free-form note")
	_ = add.MarkFlagRequired("name")

	del := &cobra.Command{
		Use:   "delete <addressbook> <uid>",
		Short: "Delete a contact by UID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			book, err := findCollection(rt.engine.Cache(), resource.KindAddressBook, args[0])
			if err != nil {
				return err
			}
			entry, ok := rt.engine.Cache().LastKnownContacts(book.URL).Get()
			if !ok {
				return fmt.Errorf("no cached contacts for %s; list them first", collectionLabel(book))
			}
			i := slices.IndexFunc(entry.Items, func(c resource.Contact) bool { return c.UID == args[1] })
			if i < 0 {
				return fmt.Errorf("contact %s not found in %s", args[1], collectionLabel(book))
			}
			if err := rt.engine.DeleteContact(cmd.Context(), book, entry.Items[i]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s%s\n", args[1], queuedNote(rt))
			return nil
		},
	}

	cmd.AddCommand(list, add, del)
	return cmd
}

func printContacts(w io.Writer, format string, contacts []resource.Contact) error {
	slices.SortFunc(contacts, func(a, b resource.Contact) int {
		return strings.Compare(strings.ToLower(a.FullName), strings.ToLower(b.FullName))
	})
	if done, err := writeStructured(w, format, contacts); done {
		return err
	}
	if len(contacts) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No contacts."))
		return nil
	}
	t := newTable("NAME", "EMAIL", "PHONE", "ORGANIZATION", "UID")
	for _, ct := range contacts {
		name := ct.FullName
		if ct.ETag == "" {
			name += warnStyle.Render(" *")
		}
		t.Row(name, ct.Email, ct.Phone, ct.Organization, ct.UID)
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
