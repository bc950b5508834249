package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/policy"
)

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <rules.json>",
		Short: "Show the usage policy pattern of each rule",
		Long: `Classify every rule of a contract, or of a JSON array of rules, into its
usage policy pattern. Use - to read from stdin. Rules that match no pattern
are listed as unsupported and make the command fail.

Example:
  connector classify offer.json
  cat rules.json | connector classify --format json -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			rules, err := readRules(cmd.InOrStdin(), args[0])
			if err != nil {
				return out.Fail(err)
			}
			list := classifyRules(rules)
			if err := out.Success(list); err != nil {
				return err
			}
			if n := list.unsupported(); n > 0 {
				return codedError(ExitFailure, ErrCodeInput, fmt.Sprintf("%d rules match no usage policy pattern", n), nil)
			}
			return nil
		},
	}
}

type classification struct {
	Target    string           `json:"target,omitempty"`
	Kind      ir.RuleKind      `json:"kind"`
	Action    ir.Action        `json:"action"`
	Pattern   ir.PolicyPattern `json:"pattern,omitempty"`
	Supported bool             `json:"supported"`
}

type classificationList []classification

func classifyRules(rules []ir.Rule) classificationList {
	list := make(classificationList, 0, len(rules))
	for _, r := range rules {
		p, ok := policy.Classify(r)
		list = append(list, classification{Target: r.Target, Kind: r.Kind, Action: r.Action, Pattern: p, Supported: ok})
	}
	return list
}

func (l classificationList) unsupported() int {
	n := 0
	for _, c := range l {
		if !c.Supported {
			n++
		}
	}
	return n
}

func (l classificationList) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tKIND\tACTION\tPATTERN")
	for _, c := range l {
		pattern := string(c.Pattern)
		if !c.Supported {
			pattern = "unsupported"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Target, c.Kind, c.Action, pattern)
	}
	return tw.Flush()
}

// readRules reads a contract or a rule array from path, or from stdin when
// path is "-". Rules without a kind are permissions.
func readRules(stdin io.Reader, path string) ([]ir.Rule, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, codedError(ExitCommandError, ErrCodeInput, "read rules", err)
	}

	var rules []ir.Rule
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		err = json.Unmarshal(trimmed, &rules)
	} else {
		var c ir.Contract
		err = json.Unmarshal(trimmed, &c)
		rules = c.Rules()
	}
	if err != nil {
		return nil, codedError(ExitCommandError, ErrCodeInput, "parse rules", err)
	}
	if len(rules) == 0 {
		return nil, codedError(ExitCommandError, ErrCodeInput, "no rules given", nil)
	}
	for i := range rules {
		if rules[i].Kind == "" {
			rules[i].Kind = ir.KindPermission
		}
	}
	return rules, nil
}
