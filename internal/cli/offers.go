package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/offers"
)

// NewOffersCommand groups the catalog commands.
func NewOffersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Manage contract offers and offered resources",
	}
	cmd.AddCommand(newOffersImportCommand(opts))
	cmd.AddCommand(newOffersListCommand(opts))
	return cmd
}

type importSummary struct {
	Files     int `json:"files"`
	Offers    int `json:"offers"`
	Resources int `json:"resources"`
	Artifacts int `json:"artifacts"`
}

func (s importSummary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Imported %d offers, %d resources and %d artifacts from %d files\n",
		s.Offers, s.Resources, s.Artifacts, s.Files)
	return err
}

func newOffersImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog-dir>",
		Short: "Import offers and resources declared in CUE",
		Long: `Load the CUE package in catalog-dir and store its offers, resources and
artifact data. Every broken entry is reported and nothing is stored unless
the whole catalog compiles.

Example:
  connector offers import ./catalog`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			result, errs := offers.LoadDir(args[0], offers.LoadModeCollectAll)
			if len(errs) > 0 {
				messages := make([]string, 0, len(errs))
				for _, err := range errs {
					messages = append(messages, err.Error())
					out.VerboseLog("%v", err)
				}
				err := codedError(ExitCommandError, ErrCodeCatalog,
					fmt.Sprintf("catalog has %d errors", len(errs)), errs[0])
				_ = out.Error(ErrCodeCatalog, err.Error(), messages)
				return err
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			if err := offers.Import(cmd.Context(), a.store, result); err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeStore, "import failed", err))
			}
			return out.Success(importSummary{
				Files:     result.FileCount,
				Offers:    len(result.Offers),
				Resources: len(result.Resources),
				Artifacts: len(result.Artifacts),
			})
		},
	}
}

type offerList []ir.Contract

func (l offerList) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONSUMER\tTARGETS")
	for _, o := range l {
		consumer := o.Consumer
		if consumer == "" {
			consumer = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.ID, consumer, strings.Join(o.Targets(), " "))
	}
	return tw.Flush()
}

func newOffersListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored contract offers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			list, err := a.store.ListOffers(cmd.Context())
			if err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeStore, "list offers", err))
			}
			return out.Success(offerList(list))
		},
	}
}
