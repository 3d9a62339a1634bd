package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tfkr-ae/mimic/rawhttp"
	"github.com/tfkr-ae/mimic/service"
)

// newMappingsCommand manages the mapping storage directly. It must not run against a
// storage dir that a serving mimic is writing to.
func newMappingsCommand(c *cli) *cobra.Command {
	mappingsCmd := &cobra.Command{
		Use:     "mappings",
		Aliases: []string{"m"},
		Short:   "Inspect and edit mappings offline",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List mappings",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return c.withService(func(svc *service.MappingService) error {
				return listMappings(cmd.OutOrStdout(), svc, asJSON)
			})
		},
	}
	listCmd.Flags().Bool("json", false, "Print the listing as JSON")

	addCmd := &cobra.Command{
		Use:   "add <pattern>",
		Short: "Create or overwrite a mapping for a URL, glob or regular expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regex, _ := cmd.Flags().GetBool("regex")
			req := service.CreateRequest{Pattern: args[0]}
			if regex {
				req = service.CreateRequest{RegexPattern: args[0]}
			}
			return c.withService(func(svc *service.MappingService) error {
				mapping, err := svc.CreateOrOverwrite(req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), mapping.ID)
				return nil
			})
		},
	}
	addCmd.Flags().Bool("regex", false, "Treat the pattern as a regular expression")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the content of a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pretty, _ := cmd.Flags().GetBool("pretty")
			return c.withService(func(svc *service.MappingService) error {
				mapping, err := svc.GetMapping(id, true)
				if err != nil {
					return err
				}
				content := mapping.Content
				if pretty {
					if formatted, _, err := rawhttp.Prettify(content); err == nil && len(formatted) > 0 {
						content = formatted
					}
				}
				_, err = cmd.OutOrStdout().Write(content)
				return err
			})
		},
	}
	showCmd.Flags().Bool("pretty", false, "Indent JSON, XML or HTML content")

	setContentCmd := &cobra.Command{
		Use:   "set-content <id> [file]",
		Short: "Replace the content of a mapping from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			encoding, _ := cmd.Flags().GetString("encoding")
			content, err := readContent(cmd.InOrStdin(), args[1:], encoding)
			if err != nil {
				return err
			}
			return c.withService(func(svc *service.MappingService) error {
				mapping, err := svc.SetContent(id, content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", mapping.ID, mapping.ContentLength())
				return nil
			})
		},
	}
	setContentCmd.Flags().String("encoding", "", "Content-Encoding of the input (gzip, br, deflate)")

	removeCmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a mapping",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(func(svc *service.MappingService) error {
				deleted, err := svc.DeleteMapping(id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), deleted)
				return nil
			})
		},
	}

	mappingsCmd.AddCommand(listCmd, addCmd, showCmd, setContentCmd, removeCmd)
	return mappingsCmd
}

// withService opens the storage for one command. Persistence is strict: the process
// exits right after, so a change that was not written is a failed command.
func (c *cli) withService(fn func(*service.MappingService) error) error {
	svc, closeFn, err := service.Open(c.config.StorageDir, c.config.StorageBackend, c.logger, service.WithStrictPersistence())
	if err != nil {
		return fmt.Errorf("%w : %w", ErrOpenStorage, err)
	}
	defer closeFn()
	return fn(svc)
}

func listMappings(w io.Writer, svc *service.MappingService, asJSON bool) error {
	metadata := svc.ListWithMetadata()
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(metadata)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSOURCE\tCONTENT")
	for _, m := range metadata {
		kind, source := "pattern", m.Pattern
		if m.RegexPattern != "" {
			kind, source = "regex", m.RegexPattern
		}
		content := "-"
		if m.HasContent {
			content = fmt.Sprintf("%d bytes", m.ContentLength)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, kind, source, content)
	}
	return tw.Flush()
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w : %q", ErrInvalidID, raw)
	}
	return id, nil
}

// readContent reads the named file, or stdin when no file or "-" is given.
func readContent(stdin io.Reader, args []string, encoding string) ([]byte, error) {
	r := stdin
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w : %w", ErrReadContent, err)
		}
		defer f.Close()
		r = f
	}
	content, err := rawhttp.ReadBody(r, encoding, 0)
	if err != nil {
		return nil, fmt.Errorf("%w : %w", ErrReadContent, err)
	}
	return content, nil
}
