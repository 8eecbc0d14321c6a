package refresher

import (
	"github.com/spf13/cobra"

	"github.com/hypercerts-org/sessiond/internal/business"
	"github.com/hypercerts-org/sessiond/internal/cmdutils"
)

func Cmd() *cobra.Command {
	return cmdutils.CobraCommand(
		"refresher",
		"Session token refresh job",
		"Session token refresh job rotates stored token material before it expires",
		business.RefresherMain,
	)
}
