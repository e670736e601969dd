package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/recoverly/golang_services/internal/collections_service/adapters/emailprovider"
	"github.com/recoverly/golang_services/internal/collections_service/adapters/llm"
	"github.com/recoverly/golang_services/internal/collections_service/app"
	"github.com/recoverly/golang_services/internal/collections_service/repository/postgres"
	"github.com/recoverly/golang_services/internal/platform/database"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
	"github.com/recoverly/golang_services/internal/platform/paylink"
)

func outreachCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "outreach <debt-id>",
		Short: "Send the first collection email for a debt",
		Long: `Generate and send the first outbound email for a debt.

The debtor must have given email consent. The thread is created (or reused) under the
given subject, which defaults to one naming the original creditor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			debtID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid debt id %q: %w", args[0], err)
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			var publisher messagebroker.Publisher = messagebroker.NoopPublisher{}
			if cfg.NATSUrl != "" {
				if nc, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, log); err == nil {
					defer nc.Close()
					publisher = nc
				} else {
					log.Warn("NATS unavailable, skipping event publication", "error", err)
				}
			}

			emailCfg := cfg.EmailConfig()
			sender, err := emailprovider.NewFromConfig(emailCfg, log)
			if err != nil {
				return err
			}
			llmCfg := cfg.LLMConfig()
			prompts, err := llm.LoadPrompts(llmCfg.PromptsFile)
			if err != nil {
				return err
			}
			linkCfg := cfg.PayLinkConfig()
			if linkCfg.Secret == "" {
				linkCfg.BaseURL = ""
			}

			debtors := postgres.NewPgDebtorRepository(pool, log)
			emails := postgres.NewPgEmailRepository(pool, log)
			dispatcher := app.NewDispatcher(sender, emails, debtors, paylink.NewSigner(linkCfg.Secret, linkCfg.BaseURL, linkCfg.TTL),
				app.DispatcherConfig{
					FromAddress:        emailCfg.FromAddress,
					DefaultFromAddress: emailCfg.DefaultFromAddress,
					MailDomain:         emailCfg.MailDomain,
					Timeout:            emailCfg.Timeout,
				}, log)
			outreach := app.NewOutreach(
				postgres.NewPgDebtRepository(pool, log),
				debtors,
				postgres.NewPgThreadRepository(pool, log),
				emails,
				llm.NewOpenAIResponseGenerator(llmCfg, prompts, nil, log),
				dispatcher,
				postgres.NewPgAIUsageRepository(pool, log),
				publisher,
				llmCfg.Timeout,
				log,
			)

			email, err := outreach.SendInitialContact(ctx, debtID, subject)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sent %s to %s\n", email.MessageID, email.ToAddress)
			fmt.Fprintf(out, "thread: %s\n", email.ThreadID.UUID)
			fmt.Fprintf(out, "subject: %s\n", email.Subject)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "thread subject (defaults to one naming the creditor)")
	return cmd
}
