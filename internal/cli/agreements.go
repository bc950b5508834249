package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/store"
)

// NewAgreementsCommand groups the agreement commands.
func NewAgreementsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agreements",
		Short: "Inspect contract agreements",
	}
	cmd.AddCommand(newAgreementsListCommand(opts))
	return cmd
}

// agreementView is the listed form of an agreement. ir.Agreement keeps its
// confirmation state off the wire, so it is spelled out here.
type agreementView struct {
	ID          string     `json:"id"`
	Consumer    string     `json:"consumer"`
	Provider    string     `json:"provider"`
	Confirmed   bool       `json:"confirmed"`
	ContractEnd *time.Time `json:"contract_end,omitempty"`
	Artifacts   []string   `json:"artifacts"`
	Digest      string     `json:"digest,omitempty"`
	CreatedAt   string     `json:"created_at,omitempty"`
}

func viewAgreement(a ir.Agreement, artifacts []string) agreementView {
	return agreementView{
		ID:          a.ID,
		Consumer:    a.Consumer,
		Provider:    a.Provider,
		Confirmed:   a.Confirmed,
		ContractEnd: a.ContractEnd,
		Artifacts:   artifacts,
	}
}

type agreementList []agreementView

func (l agreementList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No agreements")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONSUMER\tPROVIDER\tCONFIRMED\tARTIFACTS")
	for _, v := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", v.ID, v.Consumer, v.Provider, v.Confirmed, strings.Join(v.Artifacts, " "))
	}
	return tw.Flush()
}

func newAgreementsListCommand(opts *RootOptions) *cobra.Command {
	var confirmedOnly bool
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored agreements",
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

			records, err := a.store.ListAgreements(cmd.Context())
			if err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeStore, "list agreements", err))
			}
			return out.Success(listAgreements(records, confirmedOnly))
		},
	}
	cmd.Flags().BoolVar(&confirmedOnly, "confirmed", false, "only list confirmed agreements")
	return cmd
}

func listAgreements(records []store.AgreementRecord, confirmedOnly bool) agreementList {
	list := agreementList{}
	for _, r := range records {
		if confirmedOnly && !r.Agreement.Confirmed {
			continue
		}
		v := viewAgreement(r.Agreement, r.Artifacts)
		v.Digest = r.Digest
		v.CreatedAt = r.CreatedAt
		list = append(list, v)
	}
	return list
}
