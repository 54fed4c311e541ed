package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// output writes data as indented JSON or through the text renderer
func output(cmd *cobra.Command, opts *RootOptions, data any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(w)
	return nil
}
