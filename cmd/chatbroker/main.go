package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	backendcmder "github.com/papercomputeco/chatbroker/cmd/chatbroker/backend"
	chatcmder "github.com/papercomputeco/chatbroker/cmd/chatbroker/chat"
	gatewaycmder "github.com/papercomputeco/chatbroker/cmd/chatbroker/gateway"
	resetcmder "github.com/papercomputeco/chatbroker/cmd/chatbroker/reset"
	servecmder "github.com/papercomputeco/chatbroker/cmd/chatbroker/serve"
	submitcmder "github.com/papercomputeco/chatbroker/cmd/chatbroker/submit"
	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
)

const rootLongDesc string = `chatbroker runs conversational sessions between queue producers and a
KoboldCpp-compatible text generation backend.

Producers push {id, sessionToken, userMessage} requests onto the inbound
queue; the worker keeps each session's transcript within the backend's
context budget and publishes replies to response:{id} and the outbound
queue.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatbroker",
		Short:         "Conversational session broker",
		Long:          rootLongDesc,
		SilenceUsage:  true,
	}

	wiring.AddPersistentFlags(cmd)

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(gatewaycmder.NewGatewayCmd())
	cmd.AddCommand(resetcmder.NewResetCmd())
	cmd.AddCommand(submitcmder.NewSubmitCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(backendcmder.NewBackendCmd())

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
