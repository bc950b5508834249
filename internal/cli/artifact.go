package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/client"
)

// NewRequestArtifactCommand creates the request-artifact command.
func NewRequestArtifactCommand(opts *RootOptions) *cobra.Command {
	var contract, output string
	cmd := &cobra.Command{
		Use:   "request-artifact <provider-id> <artifact-id>",
		Short: "Download artifact data under a transfer contract",
		Long: `Request artifact data from a provider under a confirmed agreement. The
data is written to --out, or to stdout in text format.

Example:
  connector request-artifact https://provider.example \
    https://provider.example/api/artifacts/weather --contract urn:uuid:... --out weather.csv`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			provider, artifact := args[0], args[1]

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			data, err := a.client.RequestArtifact(cmd.Context(), client.Endpoint(provider), provider, artifact, contract)
			if err != nil {
				return out.Fail(peerError("artifact request failed", err))
			}

			if output == "" && opts.Format == "text" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if output != "" {
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return out.Fail(codedError(ExitCommandError, ErrCodeInput, "write artifact data", err))
				}
			}
			return out.Success(download{Artifact: artifact, Bytes: len(data), Path: output})
		},
	}
	cmd.Flags().StringVar(&contract, "contract", "", "transfer contract (agreement id) (required)")
	cmd.Flags().StringVarP(&output, "out", "o", "", "file to write the data to")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

type download struct {
	Artifact string `json:"artifact"`
	Bytes    int    `json:"bytes"`
	Path     string `json:"path,omitempty"`
}

func (d download) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Wrote %d bytes of %s to %s\n", d.Bytes, d.Artifact, d.Path)
	return err
}
