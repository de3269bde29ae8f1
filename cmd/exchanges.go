package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge/db"
	"github.com/tfkr-ae/notebridge/domain"
)

func newExchangesCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exchanges",
		Aliases: []string{"ex"},
		Short:   "Inspect recorded exchanges",
	}

	cmd.AddCommand(
		newExchangesListCmd(app),
		newExchangesShowCmd(app),
		newExchangesExportCmd(app),
	)

	return cmd
}

func newExchangesListCmd(app *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent exchanges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRepository(func(repo *db.Repository) error {
				summaries, err := repo.GetExchangeSummaries(limit)
				if err != nil {
					return fmt.Errorf("list exchanges: %w", err)
				}

				if asJSON {
					return writeJSON(cmd, summaries)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTIME\tMETHOD\tPATH\tSTATUS\tDURATION\tTITLE")
				for _, summary := range summaries {
					status := fmt.Sprint(summary.StatusCode)
					if summary.Error != "" {
						status += " (error)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						summary.ID,
						summary.RequestedAt.Local().Format(time.DateTime),
						summary.Method,
						summary.Path,
						status,
						summary.Duration.Round(time.Millisecond),
						summary.VideoTitle,
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of exchanges, 0 lists every exchange")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newExchangesShowCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one exchange including the raw dumps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRepository(func(repo *db.Repository) error {
				exchange, err := getExchange(repo, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, exchange)
			})
		},
	}
}

func newExchangesExportCmd(app *app) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the note of an exchange as a Markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRepository(func(repo *db.Repository) error {
				exchange, err := getExchange(repo, args[0])
				if err != nil {
					return err
				}

				if exchange.ResponseBody == "" {
					return fmt.Errorf("exchange %s has no response body", exchange.ID)
				}

				var note domain.NoteResponse
				if err := json.Unmarshal([]byte(exchange.ResponseBody), &note); err != nil {
					return fmt.Errorf("decode note of exchange %s: %w", exchange.ID, err)
				}
				if note.MarkdownContent == "" {
					return fmt.Errorf("exchange %s has no markdownContent", exchange.ID)
				}

				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}

				path := filepath.Join(outputDir, domain.MarkdownFilename(note.VideoTitle))
				if err := os.WriteFile(path, []byte(note.MarkdownContent), 0o644); err != nil {
					return fmt.Errorf("write note: %w", err)
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory the Markdown file is written to")

	return cmd
}

func getExchange(repo *db.Repository, rawID string) (*domain.Exchange, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange id %q: %w", rawID, err)
	}

	exchange, err := repo.GetExchange(id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("exchange %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get exchange: %w", err)
	}
	return exchange, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
