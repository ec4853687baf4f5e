package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gwen-lg/puffin-test-app/pkg/flamegraph"
)

func newFlamegraphCmd() *cobra.Command {
	opts := flamegraph.DefaultSVGOptions()
	var output string

	cmd := &cobra.Command{
		Use:   "flamegraph <collapsed-file>",
		Short: "Render collapsed stacks, as served on /collapsed, to an SVG flame graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderCollapsed(cmd, args[0], output, opts)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "SVG output path (default stdout)")
	cmd.Flags().StringVar(&opts.Title, "title", opts.Title, "flame graph title")
	cmd.Flags().IntVar(&opts.Width, "width", opts.Width, "image width in pixels")
	return cmd
}

func renderCollapsed(cmd *cobra.Command, input, output string, opts flamegraph.SVGOptions) (err error) {
	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("cannot open collapsed stacks: %w", err)
	}
	defer in.Close()

	stacks, err := flamegraph.ReadCollapsed(in)
	if err != nil {
		return fmt.Errorf("cannot read collapsed stacks: %w", err)
	}
	if len(stacks) == 0 {
		return errors.New("no stacks in " + input)
	}

	if output == "" {
		return flamegraph.WriteSVG(cmd.OutOrStdout(), stacks, opts)
	}
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("cannot create flame graph: %w", err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()
	return flamegraph.WriteSVG(out, stacks, opts)
}
