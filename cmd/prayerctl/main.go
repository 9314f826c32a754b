package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/duashare/project/internal/app/prayers"
	"github.com/duashare/project/internal/contracts"
	"github.com/duashare/project/internal/platform/env"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func main() {
	env.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type cli struct {
	apiURL   string
	password string
	format   string
	out      io.Writer
	now      func() time.Time
}

func (c *cli) client() *prayers.Client {
	return prayers.NewClient(c.apiURL)
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, now: time.Now}

	root := &cobra.Command{
		Use:           "prayerctl",
		Short:         "Operate a Du'aShare deployment from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if c.format != "text" && c.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", c.format)
			}
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.apiURL, "api", env.String("PRAYER_API_URL", "http://localhost:8080"), "prayer-api base URL")
	root.PersistentFlags().StringVar(&c.password, "password", env.String("ADMIN_PASSWORD", ""), "admin password for moderation commands")
	root.PersistentFlags().StringVar(&c.format, "format", "text", "output format (text|json)")

	root.AddCommand(
		c.listCmd(),
		c.submitCmd(),
		c.ameenCmd(),
		c.publishCmd("publish", "Make a prayer visible on the public feed", true),
		c.publishCmd("hide", "Hide a prayer from the public feed", false),
		c.deleteCmd(),
		c.historyCmd(),
		newLoadCmd(c),
	)
	return root
}

func (c *cli) listCmd() *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prayers, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows []contracts.Prayer
			if !admin {
				list, err := c.client().List(cmd.Context(), "public", "")
				if err != nil {
					return err
				}
				rows = list
			} else {
				err := c.asAdmin(cmd.Context(), func(token string) error {
					list, err := c.client().List(cmd.Context(), "admin", token)
					rows = list
					return err
				})
				if err != nil {
					return err
				}
			}
			c.printRows(rows, admin)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "include unpublished prayers (requires --password)")
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <text>",
		Short: "Share a new prayer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if _, err := contracts.NormalizeContent(content); err != nil {
				return err
			}
			row, err := c.client().Create(cmd.Context(), content)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "shared %s\n", row.ID)
			return nil
		},
	}
}

func (c *cli) ameenCmd() *cobra.Command {
	var observed int
	cmd := &cobra.Command{
		Use:   "ameen <prayer-id>",
		Short: "Say ameen to a prayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if observed < 0 {
				current, err := c.currentCount(cmd.Context(), id)
				if err != nil {
					return err
				}
				observed = current
			}
			row, err := c.client().Ameen(cmd.Context(), id, observed)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s now has %d ameen\n", row.ID, row.AmeenCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&observed, "observed", -1, "count the increment is based on (defaults to the current public count)")
	return cmd
}

func (c *cli) currentCount(ctx context.Context, id string) (int, error) {
	rows, err := c.client().List(ctx, "public", "")
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if row.ID == id {
			return row.AmeenCount, nil
		}
	}
	return 0, fmt.Errorf("prayer %s is not on the public feed", id)
}

func (c *cli) publishCmd(use, short string, value bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <prayer-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.asAdmin(cmd.Context(), func(token string) error {
				row, err := c.client().SetPublished(cmd.Context(), token, args[0], value)
				if err != nil {
					return err
				}
				state := "hidden"
				if row.IsPublished {
					state = "published"
				}
				fmt.Fprintf(c.out, "%s is %s\n", row.ID, state)
				return nil
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <prayer-id>",
		Short: "Permanently delete a prayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			return c.asAdmin(cmd.Context(), func(token string) error {
				if err := c.client().Delete(cmd.Context(), token, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm permanent deletion")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <prayer-id>",
		Short: "Show the recorded changes of a prayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.asAdmin(cmd.Context(), func(token string) error {
				entries, err := c.client().History(cmd.Context(), token, args[0], limit)
				if err != nil {
					return err
				}
				c.printHistory(entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to show (server default when 0)")
	return cmd
}

// asAdmin runs fn inside a short-lived admin session.
func (c *cli) asAdmin(ctx context.Context, fn func(token string) error) error {
	if strings.TrimSpace(c.password) == "" {
		return fmt.Errorf("admin password required (--password or ADMIN_PASSWORD)")
	}
	client := c.client()
	token, err := client.Login(ctx, c.password)
	if err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	defer func() { _ = client.Logout(context.WithoutCancel(ctx), token) }()
	return fn(token)
}

func (c *cli) printRows(rows []contracts.Prayer, admin bool) {
	if c.format == "json" {
		if rows == nil {
			rows = []contracts.Prayer{}
		}
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No prayers yet.")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	if admin {
		fmt.Fprintln(tw, "ID\tAMEEN\tPUBLISHED\tSHARED\tCONTENT")
	} else {
		fmt.Fprintln(tw, "ID\tAMEEN\tSHARED\tCONTENT")
	}
	now := c.now()
	for _, row := range rows {
		age := humanize.RelTime(row.CreatedAt, now, "ago", "from now")
		if admin {
			fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", row.ID, row.AmeenCount, row.IsPublished, age, preview(row.Content, 60))
		} else {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", row.ID, row.AmeenCount, age, preview(row.Content, 60))
		}
	}
	_ = tw.Flush()
}

func (c *cli) printHistory(entries []contracts.AuditEntry) {
	if c.format == "json" {
		if entries == nil {
			entries = []contracts.AuditEntry{}
		}
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No recorded changes.")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tAMEEN\tPUBLISHED\tWHEN")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%s\n", entry.StreamSeq, entry.Type, entry.AmeenCount, entry.IsPublished, entry.OccurredAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func preview(content string, limit int) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit-1]) + "…"
}
