package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	httpadapter "github.com/recoverly/golang_services/internal/collections_service/adapters/http"
	"github.com/recoverly/golang_services/internal/collections_service/mailheader"
	"github.com/recoverly/golang_services/internal/platform/paylink"
)

func parseHeaderCmd() *cobra.Command {
	var references bool
	cmd := &cobra.Command{
		Use:   "parse-header <value>",
		Short: "Show the message ids the thread resolver extracts from a header value",
		Long: `Parse an In-Reply-To or Message-ID value (default) or a References value.

Examples:
  collectionsctl parse-header '<abc123@mail.example.com>'
  collectionsctl parse-header --references '<a@x> <b@x> <c@x>'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if references {
				ids := mailheader.ParseReferences(args[0])
				if len(ids) == 0 {
					return fmt.Errorf("no message ids in %q", args[0])
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}
			id, ok := mailheader.ParseMessageID(args[0])
			if !ok {
				return fmt.Errorf("no message id in %q", args[0])
			}
			fmt.Fprintln(out, id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&references, "references", false, "treat the value as a References header")
	return cmd
}

func paylinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paylink <debt-id>",
		Short: "Mint a signed payment link for a debt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			debtID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid debt id %q: %w", args[0], err)
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			linkCfg := cfg.PayLinkConfig()
			if linkCfg.Secret == "" || linkCfg.BaseURL == "" {
				return fmt.Errorf("APP_PAYLINK_SECRET and APP_PAYLINK_BASE_URL must be set")
			}
			url, err := paylink.NewSigner(linkCfg.Secret, linkCfg.BaseURL, linkCfg.TTL).URL(debtID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	return cmd
}

func signWebhookCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign-webhook [file]",
		Short: "Print the X-Webhook-Signature value for a webhook body (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				secret = cfg.InboundWebhookSecret
			}
			if secret == "" {
				return fmt.Errorf("no webhook secret: pass --secret or set APP_INBOUND_WEBHOOK_SECRET")
			}

			var body []byte
			var err error
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sha256="+httpadapter.Sign(secret, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret (defaults to APP_INBOUND_WEBHOOK_SECRET)")
	return cmd
}
