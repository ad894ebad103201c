package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"askdoc/internal/client"
)

type options struct {
	server     string
	token      string
	documentID string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), describe(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "askdoc",
		Short:         "Ask questions about your documents",
		Long:          "askdoc uploads documents to an askdoc server and answers questions about them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("ASKDOC_SERVER", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ASKDOC_TOKEN"), "bearer token (defaults to $ASKDOC_TOKEN)")

	root.AddCommand(
		newRegisterCmd(opts),
		newLoginCmd(opts),
		newUploadCmd(opts),
		newDocumentsCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newChatCmd(opts),
	)
	return root
}

func describe(err error) string {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == 401 {
		return err.Error() + " (run `askdoc login` and export ASKDOC_TOKEN)"
	}
	return err.Error()
}

func (o *options) apiClient() *client.APIClient {
	return client.NewAPIClient(o.server, o.token, nil)
}

func (o *options) addDocumentFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.documentID, "document", "d", "", "document ID")
	_ = cmd.MarkFlagRequired("document")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
