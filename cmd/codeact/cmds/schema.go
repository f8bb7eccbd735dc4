package cmds

import (
	"fmt"

	"github.com/go-go-golems/codeact/pkg/envelope"
	"github.com/spf13/cobra"
)

// NewSchemaCommand prints the JSON schema of the reply envelope.
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema the model replies must follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(envelope.SchemaJSON()))
			return err
		},
	}
}
