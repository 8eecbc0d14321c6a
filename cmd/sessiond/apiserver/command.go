package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/hypercerts-org/sessiond/internal/business"
	"github.com/hypercerts-org/sessiond/internal/cmdutils"
)

func Cmd() *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Session API server",
		"Session API server hosts the public HTTP API for sign-in, callback, session info and sign-out",
		business.Main,
	)
}
