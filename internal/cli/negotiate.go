package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/client"
)

// NewNegotiateCommand creates the negotiate command.
func NewNegotiateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "negotiate <provider-id> <rules.json>",
		Short: "Negotiate a contract agreement with a provider",
		Long: `Send the rules as a contract request to the provider, store the agreement
it returns and send the agreement back for confirmation. The agreement id
is then usable as transfer contract.

Example:
  connector negotiate https://provider.example rules.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			provider := args[0]
			rules, err := readRules(cmd.InOrStdin(), args[1])
			if err != nil {
				return out.Fail(err)
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			ctx := cmd.Context()
			endpoint := client.Endpoint(provider)
			request := a.engine.BuildContractRequest(rules)
			out.VerboseLog("requesting contract %s from %s", request.ID, endpoint)

			agreement, err := a.client.RequestContract(ctx, endpoint, provider, request)
			if err != nil {
				return out.Fail(peerError("contract request failed", err))
			}
			if err := a.engine.StoreRequestedAgreement(ctx, request, agreement); err != nil {
				return out.Fail(codedError(ExitFailure, ErrCodePeer, "agreement rejected", err))
			}
			if err := a.client.ConfirmAgreement(ctx, endpoint, provider, agreement); err != nil {
				return out.Fail(peerError("agreement confirmation failed", err))
			}
			if err := a.engine.MarkConfirmed(ctx, agreement); err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeStore, "confirm agreement", err))
			}
			agreement.Confirmed = true
			slog.Info("agreement negotiated", "id", agreement.ID, "provider", provider)

			return out.Success(negotiated(viewAgreement(agreement, agreement.Targets())))
		},
	}
}

type negotiated agreementView

func (n negotiated) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Agreement %s confirmed by %s\nArtifacts: %s\n",
		n.ID, n.Provider, strings.Join(n.Artifacts, " "))
	return err
}
