package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahrav/smartvalidator/internal/application"
	"github.com/ahrav/smartvalidator/internal/domain"
)

// maxReasoningWidth truncates reasoning in the summary table.
const maxReasoningWidth = 80

func newValidateCmd(c *cli) *cobra.Command {
	var (
		useRAG bool
		source string
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "validate <records.json>",
		Short: "Validate a JSON file of records and print the verdicts",
		Long: `Validates every record in a JSON array file ("-" reads stdin) and prints
the batch result as JSON followed by a per-record summary.

Usage:
  smartvalidator validate records.json
  smartvalidator validate records.json --rag --source react
  cat records.json | smartvalidator validate - --quiet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			records, err := domain.ParseRecords(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			svc, err := c.buildService()
			if err != nil {
				return err
			}

			result, err := svc.ValidateData(cmd.Context(), records, application.ValidateOptions{
				UseRAG: useRAG,
				Source: source,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if quiet {
				return nil
			}
			return writeSummary(out, result)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&useRAG, "rag", false, "Inject the rules document into every prompt")
	f.StringVar(&source, "source", "", "Channel hint used to pick the API key")
	f.BoolVarP(&quiet, "quiet", "q", false, "Print only the JSON result")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return data, nil
}

// writeSummary prints one row per verdict and the batch totals.
func writeSummary(w io.Writer, result domain.BatchResult) error {
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tSTATUS\tSCORE\tREASONING")
	for _, v := range result.Results {
		reasoning := ""
		if v.Reasoning != nil {
			reasoning = oneLine(*v.Reasoning, maxReasoningWidth)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.RecordID, v.Status, application.FormatScore(v.Score), reasoning)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nOK: %d  Error: %d  Avg score: %s  Key source: %s\n",
		result.Summary.OK,
		result.Summary.Error,
		application.FormatScore(result.Summary.AverageScore),
		result.KeySource)
	return err
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > width {
		return string(r[:width-3]) + "..."
	}
	return s
}
