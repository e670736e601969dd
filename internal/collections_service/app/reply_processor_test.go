package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

const testMailDomain = "collections.example"

type fixture struct {
	store     *memStore
	generator *mockGenerator
	sender    *mockSender
	publisher *recordingPublisher
	processor *ReplyProcessor
	outreach  *Outreach
	tracker   *DeliveryTracker
	debtor    *domain.Debtor
	debt      *domain.Debt
	sent      []domain.OutboundMessage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		generator: new(mockGenerator),
		sender:    new(mockSender),
		publisher: &recordingPublisher{},
	}
	f.debtor = f.store.addDebtor("jane@example.com", true)
	f.debt = f.store.addDebt(f.debtor.ID, "Acme Bank", 125000)

	logger := testLogger()
	emails := memEmails{f.store}
	debts := memDebts{f.store}
	debtors := memDebtors{f.store}
	threads := memThreads{f.store}
	usage := memUsage{f.store}

	dispatcher := NewDispatcher(f.sender, emails, debtors, stubLinker{url: "https://pay.example/pay/tok"}, DispatcherConfig{
		DefaultFromAddress: "collections@" + testMailDomain,
		MailDomain:         testMailDomain,
		Timeout:            time.Second,
	}, logger)
	resolver := NewThreadResolver(emails, threads, debts, nil, 0, logger)
	f.processor = NewReplyProcessor(resolver, emails, debts, f.generator, dispatcher, usage, f.publisher, time.Second, logger)
	f.outreach = NewOutreach(debts, debtors, threads, emails, f.generator, dispatcher, usage, f.publisher, time.Second, logger)
	f.tracker = NewDeliveryTracker(emails, f.publisher, logger)

	t.Cleanup(func() {
		f.generator.AssertExpectations(t)
		f.sender.AssertExpectations(t)
	})
	return f
}

func (f *fixture) expectGenerate(historyLen int) {
	f.generator.On("Generate", mock.Anything, mock.MatchedBy(func(h []*domain.Email) bool {
		return len(h) == historyLen
	}), f.debt).Return(&domain.GeneratedResponse{
		Subject:   "Re: My account",
		Body:      "Hello Jane,\n\nWe can set up a payment plan.",
		Signature: "Alex\nCollections Team",
		Usage:     domain.GenerationUsage{Model: "gpt-test", PromptTokens: 120, CompletionTokens: 40},
	}, nil).Once()
}

func (f *fixture) expectSend(providerID string) {
	f.sender.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { f.sent = append(f.sent, args.Get(1).(domain.OutboundMessage)) }).
		Return(&domain.SendResult{ProviderMessageID: providerID}, nil).Once()
}

func inboundFrom(from, messageID string, headers ...domain.Header) *domain.InboundNotification {
	return &domain.InboundNotification{
		Type:            domain.EventTypeEmailReceived,
		ProviderEmailID: "prov-in-" + messageID,
		MessageID:       "<" + messageID + "@mail.debtor.example>",
		From:            from,
		To:              []string{"collections@" + testMailDomain},
		Subject:         "My account",
		Headers:         headers,
		Text:            "Can I pay in installments?",
	}
}

func TestProcessInbound_NewSenderCreatesThreadAndReplies(t *testing.T) {
	f := newFixture(t)
	f.expectGenerate(1)
	f.expectSend("prov-out-1")

	res, err := f.processor.ProcessInbound(context.Background(), inboundFrom("Jane Doe <JANE@example.com>", "m1"))
	require.NoError(t, err)

	assert.True(t, res.ThreadCreated)
	assert.Equal(t, f.debtor.ID, res.Thread.DebtorID)
	assert.Equal(t, "My account", res.Thread.Subject.String)

	assert.Equal(t, "m1", res.Inbound.MessageID)
	assert.Equal(t, "<m1@mail.debtor.example>", res.Inbound.HeaderMessageID.String)
	assert.Equal(t, domain.DirectionInbound, res.Inbound.Direction)
	assert.Equal(t, "jane@example.com", res.Inbound.FromAddress)
	assert.False(t, res.Inbound.ReplyTo.Valid)
	assert.False(t, res.Inbound.AIGenerated)

	assert.Equal(t, domain.DirectionOutbound, res.Outbound.Direction)
	assert.True(t, res.Outbound.AIGenerated)
	assert.Equal(t, "m1", res.Outbound.ReplyTo.String)
	assert.Equal(t, "prov-out-1", res.Outbound.ProviderMessageID.String)
	assert.Equal(t, res.Thread.ID, res.Outbound.ThreadID.UUID)
	assert.Equal(t, f.debt.ID, res.Outbound.DebtID.UUID)

	emails := f.store.allEmails()
	require.Len(t, emails, 2)
	assert.Equal(t, 1, f.store.threadCount())

	require.Len(t, f.sent, 1)
	msg := f.sent[0]
	assert.Equal(t, "jane@example.com", msg.To)
	assert.Equal(t, "collections@"+testMailDomain, msg.From)
	assert.Equal(t, "Re: My account", msg.Subject)
	assert.Equal(t, "<m1@mail.debtor.example>", msg.Headers["In-Reply-To"])
	assert.Equal(t, "<m1@mail.debtor.example>", msg.Headers["References"])
	assert.Equal(t, "<"+res.Outbound.MessageID+"@"+testMailDomain+">", msg.Headers["Message-ID"])
	assert.Contains(t, msg.HTML, "https://pay.example/pay/tok")
	assert.Contains(t, msg.Text, "We can set up a payment plan.")

	usage := f.store.allUsage()
	require.Len(t, usage, 1)
	assert.Equal(t, "gpt-test", usage[0].Model)
	assert.Equal(t, "collector_reply", usage[0].Metadata["purpose"])

	assert.Equal(t, []string{SubjectEmailReceived, SubjectEmailSent}, f.publisher.published())
}

func TestProcessInbound_ReplyHeaderFindsExistingThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectGenerate(0)
	f.expectSend("prov-out-1")
	first, err := f.outreach.SendInitialContact(ctx, f.debt.ID, "")
	require.NoError(t, err)

	f.expectGenerate(2)
	f.expectSend("prov-out-2")
	n := inboundFrom("jane@example.com", "m2", domain.Header{Name: "In-Reply-To", Value: "<" + first.MessageID + "@" + testMailDomain + ">"})
	n.Subject = "Re: something else entirely"

	res, err := f.processor.ProcessInbound(ctx, n)
	require.NoError(t, err)

	assert.False(t, res.ThreadCreated)
	assert.Equal(t, first.ThreadID.UUID, res.Thread.ID)
	assert.Equal(t, first.MessageID, res.Inbound.ReplyTo.String)
	assert.Equal(t, 1, f.store.threadCount())

	require.Len(t, f.sent, 2)
	refs := f.sent[1].Headers["References"]
	assert.Equal(t, "<"+first.MessageID+"@"+testMailDomain+"> <m2@mail.debtor.example>", refs)
}

func TestProcessInbound_ReferencesKeepDebtorMessageIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectGenerate(1)
	f.expectSend("prov-out-1")
	first, err := f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m1"))
	require.NoError(t, err)

	f.expectGenerate(3)
	f.expectSend("prov-out-2")
	replyID := "<" + first.Outbound.MessageID + "@" + testMailDomain + ">"
	second, err := f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m2", domain.Header{Name: "In-Reply-To", Value: replyID}))
	require.NoError(t, err)
	assert.Equal(t, first.Thread.ID, second.Thread.ID)
	assert.Equal(t, first.Outbound.MessageID, second.Inbound.ReplyTo.String)

	require.Len(t, f.sent, 2)
	assert.Equal(t, "<m2@mail.debtor.example>", f.sent[1].Headers["In-Reply-To"])
	assert.Equal(t, "<m1@mail.debtor.example> "+replyID+" <m2@mail.debtor.example>", f.sent[1].Headers["References"])
}

func TestProcessInbound_ReferencesUsedWhenInReplyToMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectGenerate(0)
	f.expectSend("prov-out-1")
	first, err := f.outreach.SendInitialContact(ctx, f.debt.ID, "Payment options")
	require.NoError(t, err)

	f.expectGenerate(2)
	f.expectSend("prov-out-2")
	n := inboundFrom("jane@example.com", "m2", domain.Header{
		Name:  "references",
		Value: "<unrelated@elsewhere.example> <" + first.MessageID + "@" + testMailDomain + ">",
	})

	res, err := f.processor.ProcessInbound(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID.UUID, res.Thread.ID)
	assert.Equal(t, first.MessageID, res.Inbound.ReplyTo.String)
}

func TestProcessInbound_UnknownReplyHeaderFallsBackToSender(t *testing.T) {
	f := newFixture(t)
	f.expectGenerate(1)
	f.expectSend("prov-out-1")

	n := inboundFrom("jane@example.com", "m1", domain.Header{Name: "In-Reply-To", Value: "<never-sent@" + testMailDomain + ">"})
	res, err := f.processor.ProcessInbound(context.Background(), n)
	require.NoError(t, err)

	assert.True(t, res.ThreadCreated)
	assert.False(t, res.Inbound.ReplyTo.Valid)

	stored, err := memEmails{f.store}.GetByMessageID(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.ReplyTo.Valid)
}

func TestProcessInbound_SecondUnmatchedEmailReusesThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectGenerate(1)
	f.expectSend("prov-out-1")
	first, err := f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m1"))
	require.NoError(t, err)

	f.expectGenerate(3)
	f.expectSend("prov-out-2")
	second, err := f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m2"))
	require.NoError(t, err)

	assert.False(t, second.ThreadCreated)
	assert.Equal(t, first.Thread.ID, second.Thread.ID)
	assert.Equal(t, 1, f.store.threadCount())
	assert.Len(t, f.store.allEmails(), 4)
}

func TestProcessInbound_UsesMessageIDHeaderWhenFieldEmpty(t *testing.T) {
	f := newFixture(t)
	f.expectGenerate(1)
	f.expectSend("prov-out-1")

	n := inboundFrom("jane@example.com", "ignored")
	n.MessageID = ""
	n.Headers = []domain.Header{{Name: "Message-Id", Value: "<hdr-42@mail.debtor.example>"}}

	res, err := f.processor.ProcessInbound(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "hdr-42", res.Inbound.MessageID)
	assert.Equal(t, "<hdr-42@mail.debtor.example>", f.sent[0].Headers["In-Reply-To"])
}

func TestProcessInbound_UnknownSenderWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.ProcessInbound(context.Background(), inboundFrom("stranger@example.com", "m1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoDebtorFound))

	assert.Equal(t, 0, f.store.threadCount())
	assert.Empty(t, f.store.allEmails())
	assert.Empty(t, f.publisher.published())
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInbound_IgnoredType(t *testing.T) {
	f := newFixture(t)
	n := inboundFrom("jane@example.com", "m1")
	n.Type = "email.opened"

	_, err := f.processor.ProcessInbound(context.Background(), n)
	assert.ErrorIs(t, err, domain.ErrIgnoredEvent)
	assert.Empty(t, f.store.allEmails())
}

func TestProcessInbound_MissingContent(t *testing.T) {
	f := newFixture(t)
	n := inboundFrom("jane@example.com", "m1")
	n.Text = "  "
	n.HTML = ""

	_, err := f.processor.ProcessInbound(context.Background(), n)
	assert.ErrorIs(t, err, domain.ErrMissingContent)
	assert.Equal(t, 0, f.store.threadCount())
	assert.Empty(t, f.store.allEmails())
}

func TestProcessInbound_MalformedSender(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.ProcessInbound(context.Background(), inboundFrom("not an address", "m1"))
	assert.ErrorIs(t, err, domain.ErrMalformedNotification)
	assert.Empty(t, f.store.allEmails())
}

func TestProcessInbound_DuplicateMessageIDIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectGenerate(1)
	f.expectSend("prov-out-1")
	_, err := f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m1"))
	require.NoError(t, err)

	_, err = f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateMessageID)
	assert.Len(t, f.store.allEmails(), 2)
	assert.Equal(t, 1, f.store.threadCount())
}

func TestProcessInbound_GenerationFailureKeepsInbound(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrGeneration, errors.New("model unavailable"))).Once()

	_, err := f.processor.ProcessInbound(context.Background(), inboundFrom("jane@example.com", "m1"))
	assert.ErrorIs(t, err, domain.ErrGeneration)

	emails := f.store.allEmails()
	require.Len(t, emails, 1)
	assert.Equal(t, domain.DirectionInbound, emails[0].Direction)
	assert.Empty(t, f.store.allUsage())
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestProcessInbound_SendFailureKeepsInbound(t *testing.T) {
	f := newFixture(t)
	f.expectGenerate(1)
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("provider returned 503")).Once()

	_, err := f.processor.ProcessInbound(context.Background(), inboundFrom("jane@example.com", "m1"))
	assert.ErrorIs(t, err, domain.ErrDelivery)

	emails := f.store.allEmails()
	require.Len(t, emails, 1)
	assert.Equal(t, domain.DirectionInbound, emails[0].Direction)
	assert.Equal(t, []string{SubjectEmailReceived}, f.publisher.published())
}

func TestProcessInbound_PublishFailureDoesNotFailPipeline(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("nats down")
	f.expectGenerate(1)
	f.expectSend("prov-out-1")

	res, err := f.processor.ProcessInbound(context.Background(), inboundFrom("jane@example.com", "m1"))
	require.NoError(t, err)
	assert.NotNil(t, res.Outbound)
}

func TestThreadHistoryIsOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.expectGenerate(1)
	f.expectSend("prov-out-1")
	res, err := f.processor.ProcessInbound(ctx, inboundFrom("jane@example.com", "m1"))
	require.NoError(t, err)

	history, err := threadHistory(ctx, memEmails{f.store}, res.Thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.DirectionInbound, history[0].Direction)
	assert.Equal(t, domain.DirectionOutbound, history[1].Direction)
}
