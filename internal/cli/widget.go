package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/connector-chat/server/internal/widget"
	logx "github.com/connector-chat/server/pkg/logger"
)

func newWidgetTokenCmd(rt runtime) *cobra.Command {
	var htmlOnly bool

	cmd := &cobra.Command{
		Use:   "widget-token",
		Short: "Exchange credentials for a connector widget token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); !debug {
				logx.Disable()
			}
			issuer, err := rt.widget()
			if err != nil {
				return err
			}
			token, err := issuer.Token(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if htmlOnly {
				_, err = fmt.Fprintln(out, widget.HTML(token))
				return err
			}
			_, err = fmt.Fprintf(out, "token: %s\nhtml:  %s\n", token, widget.HTML(token))
			return err
		},
	}

	cmd.Flags().BoolVar(&htmlOnly, "html", false, "print only the HTML snippet")
	return cmd
}
