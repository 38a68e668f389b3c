package version

import (
	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand adds a "version" subcommand to the provided root
// command and sets the root's Version so "--version" works as well.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.Version = Short()

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print detailed version information.",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Full())
		},
	})
}
