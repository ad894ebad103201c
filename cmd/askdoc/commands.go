package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"askdoc/internal/client"
	"askdoc/internal/tui"
)

const pageSize = 20

var uploadPollInterval = time.Second

func newRegisterCmd(opts *options) *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and print its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := opts.apiClient().Register(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(opts *options) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a token",
		Long:  "Log in and print a token. Export it as ASKDOC_TOKEN for the other commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := opts.apiClient().Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUploadCmd(opts *options) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a PDF, Word, text or Markdown document",
		Long: `Upload a document and wait for ingestion to finish.

Supported formats are .pdf, .docx, .txt and .md. Use --no-wait to return as soon as
the server has accepted the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			api := opts.apiClient()
			doc, err := api.UploadDocument(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			if !noWait && !doc.Terminal() {
				doc, err = waitForIngestion(cmd.Context(), api, doc.ID)
				if err != nil {
					return err
				}
			}
			cmd.Printf("%s %s %s\n", doc.ID, doc.Name, statusColor(doc.IngestionStatus))
			if doc.IngestionStatus == "FAILED" {
				return fmt.Errorf("ingestion of %s failed", doc.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for ingestion to finish")
	return cmd
}

func waitForIngestion(ctx context.Context, api *client.APIClient, documentID string) (*client.RemoteDocument, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString("Ingesting")),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
	defer func() {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}()

	ticker := time.NewTicker(uploadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		_ = bar.Add(1)
		doc, err := api.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if doc.Terminal() {
			return doc, nil
		}
	}
}

func newDocumentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List your documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := opts.apiClient().ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				cmd.Println("No documents yet. Upload one with `askdoc upload <file>`.")
				return nil
			}
			for _, doc := range docs {
				cmd.Printf("%s  %-10s  %s\n", doc.ID, statusColor(doc.IngestionStatus), doc.Name)
			}
			return nil
		},
	}
}

func newAskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := opts.apiClient()
			cache := client.NewMessageCache(api, opts.documentID, pageSize)
			controller := client.NewController(api, cache, opts.documentID)
			out := cmd.OutOrStdout()
			controller.OnFragment(func(s string) { fmt.Fprint(out, s) })

			controller.SetInput(strings.Join(args, " "))
			err := controller.Send(cmd.Context())
			fmt.Fprintln(out)
			if errors.Is(err, client.ErrStreamInterrupted) {
				return errors.New("answer interrupted; run `askdoc history` to see what was saved")
			}
			return err
		},
	}
	opts.addDocumentFlag(cmd)
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation for a document, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := client.NewMessageCache(opts.apiClient(), opts.documentID, pageSize)
			if _, err := cache.Pages(cmd.Context()); err != nil {
				return err
			}
			for i := 1; pages <= 0 || i < pages; i++ {
				more, err := cache.FetchNextPage(cmd.Context())
				if err != nil {
					return err
				}
				if !more {
					break
				}
			}

			msgs := cache.Flatten()
			for i := len(msgs) - 1; i >= 0; i-- {
				label := color.MagentaString("assistant")
				if msgs[i].Role == client.RoleUser {
					label = color.BlueString("you")
				}
				cmd.Printf("%s: %s\n", label, msgs[i].Text)
			}
			return nil
		},
	}
	opts.addDocumentFlag(cmd)
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load (0 loads everything)")
	return cmd
}

func newChatCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat about a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := opts.apiClient()
			doc, err := api.GetDocument(cmd.Context(), opts.documentID)
			if err != nil {
				return err
			}
			title := "askdoc · " + doc.Name
			cache := client.NewMessageCache(api, opts.documentID, pageSize)
			controller := client.NewController(api, cache, opts.documentID)

			p := tea.NewProgram(tui.New(cmd.Context(), title, controller, cache), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	opts.addDocumentFlag(cmd)
	return cmd
}

func statusColor(status string) string {
	switch status {
	case "SUCCESS":
		return color.GreenString(status)
	case "FAILED":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
