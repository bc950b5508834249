package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/client"
	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/wire"
)

// NewResourcesCommand groups the resource commands.
func NewResourcesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Manage offered and requested resources",
	}
	cmd.AddCommand(newResourcesListCommand(opts))
	cmd.AddCommand(newResourcesFetchCommand(opts))
	cmd.AddCommand(newResourcesAnnounceCommand(opts))
	cmd.AddCommand(newResourcesSubscribeCommand(opts))
	return cmd
}

type resourceView struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Title            string `json:"title"`
	OriginID         string `json:"origin_id,omitempty"`
	TransferContract string `json:"transfer_contract,omitempty"`
	Representations  int    `json:"representations"`
}

func viewResource(r ir.Resource) resourceView {
	return resourceView{
		ID:               r.ID,
		Kind:             r.Kind.String(),
		Title:            r.Metadata.Title,
		OriginID:         r.OriginID,
		TransferContract: r.TransferContract,
		Representations:  len(r.Metadata.Representations),
	}
}

type resourceList []resourceView

func (l resourceList) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTITLE\tORIGIN")
	for _, r := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Title, r.OriginID)
	}
	return tw.Flush()
}

func newResourcesListCommand(opts *RootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List offered or requested resources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			k, err := ir.ParseResourceKind(kind)
			if err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeInput, "invalid --kind", err))
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			found, err := a.store.ListResources(cmd.Context(), k)
			if err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeStore, "list resources", err))
			}
			list := make(resourceList, 0, len(found))
			for _, r := range found {
				list = append(list, viewResource(r))
			}
			return out.Success(list)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "offered", "resource kind (offered|requested)")
	return cmd
}

func newResourcesFetchCommand(opts *RootOptions) *cobra.Command {
	var contract string
	var subscribe bool
	cmd := &cobra.Command{
		Use:   "fetch <provider-id> <resource-id>",
		Short: "Store a local copy of a remote resource",
		Long: `Request the description of a remote resource, download all of its
artifacts under the transfer contract and store them as a requested
resource. With --subscribe the provider is asked to announce later changes
to this connector, which then refreshes the copy.

Example:
  connector resources fetch https://provider.example \
    https://provider.example/api/resources/weather --contract urn:uuid:... --subscribe`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			provider, resourceID := args[0], args[1]
			ctx := cmd.Context()

			a, err := openApp(ctx, opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			endpoint := client.Endpoint(provider)
			payload, err := a.client.RequestDescription(ctx, endpoint, provider, resourceID)
			if err != nil {
				return out.Fail(peerError("description request failed", err))
			}
			var remote ir.RemoteResource
			if err := wire.NewJSON().Decode(payload, &remote); err != nil {
				return out.Fail(codedError(ExitFailure, ErrCodePeer, "invalid resource description", err))
			}

			local, err := a.syncer.Fetch(ctx, provider, remote, contract)
			if err != nil {
				return out.Fail(peerError("fetch failed", err))
			}

			if subscribe {
				sub := &ir.Subscription{
					Target:     remote.ID,
					Subscriber: a.cfg.ConnectorID,
					Location:   client.Endpoint(a.cfg.ConnectorID),
				}
				if err := a.client.Subscribe(ctx, endpoint, provider, remote.ID, sub); err != nil {
					return out.Fail(peerError("subscription failed", err))
				}
				out.VerboseLog("subscribed to %s at %s", remote.ID, provider)
			}
			return out.Success(resourceList{viewResource(local)})
		},
	}
	cmd.Flags().StringVar(&contract, "contract", "", "transfer contract (agreement id) (required)")
	cmd.Flags().BoolVar(&subscribe, "subscribe", false, "subscribe to updates of the resource")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

type announced struct {
	Resource    string `json:"resource"`
	Subscribers int    `json:"subscribers"`
}

func (a announced) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Announced %s to %d subscribers\n", a.Resource, a.Subscribers)
	return err
}

func newResourcesAnnounceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "announce <resource-id>",
		Short:         "Send the current description of a resource to its subscribers",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			n, err := a.syncer.Announce(cmd.Context(), args[0])
			if err != nil {
				return out.Fail(codedError(ExitCommandError, ErrCodeStore, "announce", err))
			}
			return out.Success(announced{Resource: args[0], Subscribers: n})
		},
	}
}

func newResourcesSubscribeCommand(opts *RootOptions) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:           "subscribe <provider-id> <resource-id>",
		Short:         "Subscribe to, or with --remove unsubscribe from, a remote resource",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			provider, resourceID := args[0], args[1]
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return out.Fail(err)
			}
			defer a.Close()

			var sub *ir.Subscription
			if !remove {
				sub = &ir.Subscription{
					Target:     resourceID,
					Subscriber: a.cfg.ConnectorID,
					Location:   client.Endpoint(a.cfg.ConnectorID),
				}
			}
			if err := a.client.Subscribe(cmd.Context(), client.Endpoint(provider), provider, resourceID, sub); err != nil {
				return out.Fail(peerError("subscription failed", err))
			}
			action := "subscribed"
			if remove {
				action = "unsubscribed"
			}
			return out.Success(map[string]string{"resource": resourceID, "status": action})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the subscription")
	return cmd
}
