// Package chat runs one billed chat turn: it checks ownership and funds,
// persists the user message, calls the model, persists the reply and
// charges the user.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/conversation"
	"github.com/router-for-me/ChatBilling/internal/llm"
	"github.com/router-for-me/ChatBilling/internal/metering"
	"github.com/router-for-me/ChatBilling/internal/models"
	log "github.com/sirupsen/logrus"
)

// ConversationStore is the subset of conversation.Store the coordinator uses.
type ConversationStore interface {
	Get(ctx context.Context, conversationID uint64) (*models.Conversation, error)
	AppendMessage(ctx context.Context, in conversation.MessageInput) (uint64, error)
	History(ctx context.Context, conversationID uint64) ([]models.Message, error)
}

// Ledger is the subset of ledger.Store the coordinator uses.
type Ledger interface {
	GetBalance(ctx context.Context, userID uint64) (int64, error)
	AppendTransaction(ctx context.Context, tx *models.Transaction) (uint64, error)
	Debit(ctx context.Context, userID, txID uint64, amount int64) (int64, error)
	MarkFailed(ctx context.Context, txID uint64, note string) error
}

// ModelCatalog resolves a model name to its catalog entry.
type ModelCatalog interface {
	Lookup(ctx context.Context, name string) (*models.Model, error)
}

// UsageRecorder advances API key counters after a successful charge.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, keyID uint64, tokens, cost int64) error
}

// Deps wires the coordinator collaborators. Catalog, Usage and Policy are optional.
type Deps struct {
	Conversations ConversationStore
	Ledger        Ledger
	Gateway       llm.Gateway
	Catalog       ModelCatalog
	Usage         UsageRecorder
	Policy        func() metering.Policy
}

// Coordinator executes SendMessage.
type Coordinator struct {
	conversations ConversationStore
	ledger        Ledger
	gateway       llm.Gateway
	catalog       ModelCatalog
	usage         UsageRecorder
	policy        func() metering.Policy
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(deps Deps) (*Coordinator, error) {
	if deps.Conversations == nil || deps.Ledger == nil || deps.Gateway == nil {
		return nil, errors.New("chat: conversations, ledger and gateway are required")
	}
	policy := deps.Policy
	if policy == nil {
		policy = metering.DefaultPolicy
	}
	return &Coordinator{
		conversations: deps.Conversations,
		ledger:        deps.Ledger,
		gateway:       deps.Gateway,
		catalog:       deps.Catalog,
		usage:         deps.Usage,
		policy:        policy,
	}, nil
}

// SendRequest is one user turn.
type SendRequest struct {
	UserID         uint64
	ConversationID uint64
	Content        string
	// Model overrides the conversation's model when set.
	Model string
	// APIKeyID is set when the caller authenticated with an API key.
	APIKeyID *uint64
}

// SendResult is returned after the user has been charged.
type SendResult struct {
	UserMessageID      uint64 `json:"user_message_id"`
	AssistantMessageID uint64 `json:"assistant_message_id"`
	TransactionID      uint64 `json:"transaction_id"`
	Model              string `json:"model"`
	Reply              string `json:"reply"`
	PromptTokens       int64  `json:"prompt_tokens"`
	CompletionTokens   int64  `json:"completion_tokens"`
	Cost               int64  `json:"cost"`
	Balance            int64  `json:"balance"`
}

type turn struct {
	req    SendRequest
	stage  Stage
	logger *log.Entry
}

func (t *turn) advance(stage Stage, fields log.Fields) {
	t.stage = stage
	entry := t.logger.WithField("stage", stage.String())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Debug("chat: stage reached")
}

func (t *turn) fail(err error) error {
	t.logger.WithError(err).WithFields(log.Fields{
		"stage":     StageFailed.String(),
		"failed_at": t.stage.String(),
		"kind":      apperr.KindOf(err),
	}).Warn("chat: send message failed")
	t.stage = StageFailed
	return err
}

// SendMessage runs one turn. Steps that completed before a failure are not
// rolled back; the user message survives an LLM failure.
func (c *Coordinator) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	t := &turn{
		req:   req,
		stage: StageStart,
		logger: log.WithFields(log.Fields{
			"conversation_id": req.ConversationID,
			"user_id":         req.UserID,
		}),
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return SendResult{}, t.fail(apperr.New(apperr.KindInvalidArgument, "message content is required"))
	}

	conv, errConv := c.conversations.Get(ctx, req.ConversationID)
	if errConv != nil {
		return SendResult{}, t.fail(errConv)
	}
	if conv.UserID != req.UserID {
		return SendResult{}, t.fail(apperr.New(apperr.KindForbidden, "conversation belongs to another user"))
	}
	if conv.Status == models.ConversationStatusArchived {
		return SendResult{}, t.fail(apperr.New(apperr.KindForbidden, "conversation is archived"))
	}
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = conv.Model
	}
	pricing, errModel := c.resolveModel(ctx, modelName)
	if errModel != nil {
		return SendResult{}, t.fail(errModel)
	}
	t.advance(StageOwnershipChecked, log.Fields{"model": modelName})

	policy := c.policy()
	balance, errBalance := c.ledger.GetBalance(ctx, req.UserID)
	if errBalance != nil {
		return SendResult{}, t.fail(errBalance)
	}
	if balance < policy.MinimumBalance {
		return SendResult{}, t.fail(apperr.New(apperr.KindInsufficientFunds,
			fmt.Sprintf("balance %d is below the required %d", balance, policy.MinimumBalance)))
	}
	t.advance(StageFundsChecked, log.Fields{"balance": balance})

	userMessageID, errUserMsg := c.conversations.AppendMessage(ctx, conversation.MessageInput{
		ConversationID: req.ConversationID,
		Role:           models.MessageRoleUser,
		Content:        content,
		Model:          modelName,
	})
	if errUserMsg != nil {
		return SendResult{}, t.fail(errUserMsg)
	}
	t.advance(StageUserMessagePersisted, log.Fields{"message_id": userMessageID})

	history, errHistory := c.conversations.History(ctx, req.ConversationID)
	if errHistory != nil {
		return SendResult{}, t.fail(errHistory)
	}
	completion, errComplete := c.gateway.Complete(ctx, llm.Request{Model: modelName, Messages: toPrompt(history)})
	if errComplete == nil && strings.TrimSpace(completion.Text) == "" {
		errComplete = fmt.Errorf("%w: empty completion", llm.ErrProviderError)
	}
	if errComplete != nil {
		return SendResult{}, t.fail(apperr.Wrap(apperr.KindServiceUnavailable, "language model unavailable", llm.Classify(errComplete)))
	}
	t.advance(StageLLMInvoked, log.Fields{
		"prompt_tokens":     completion.PromptTokens,
		"completion_tokens": completion.CompletionTokens,
	})

	// The provider has already done the work; a client disconnect from here
	// on must not leave the reply unbilled.
	ctx = context.WithoutCancel(ctx)

	cost := metering.NewMeter(policy).Cost(pricing, completion.PromptTokens, completion.CompletionTokens)
	t.advance(StageCostComputed, log.Fields{"cost": cost})

	assistantMessageID, errAssistant := c.conversations.AppendMessage(ctx, conversation.MessageInput{
		ConversationID: req.ConversationID,
		Role:           models.MessageRoleAssistant,
		Content:        completion.Text,
		Model:          modelName,
		InputTokens:    completion.PromptTokens,
		OutputTokens:   completion.CompletionTokens,
	})
	if errAssistant != nil {
		return SendResult{}, t.fail(internal("persist assistant message failed", errAssistant))
	}
	t.advance(StageAssistantMessagePersisted, log.Fields{"message_id": assistantMessageID})

	result := SendResult{
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		Model:              modelName,
		Reply:              completion.Text,
		PromptTokens:       completion.PromptTokens,
		CompletionTokens:   completion.CompletionTokens,
		Cost:               cost,
		Balance:            balance,
	}
	if cost <= 0 {
		// MIN_CHARGE 0 with an empty usage report leaves nothing to bill.
		t.advance(StageDone, log.Fields{"cost": cost})
		return result, nil
	}

	txID, errTx := c.ledger.AppendTransaction(ctx, &models.Transaction{
		UserID:       req.UserID,
		APIKeyID:     req.APIKeyID,
		Type:         models.TransactionTypeCharge,
		Status:       models.TransactionStatusPending,
		Model:        modelName,
		InputTokens:  clampTokens(completion.PromptTokens),
		OutputTokens: clampTokens(completion.CompletionTokens),
		Amount:       cost,
	})
	if errTx != nil {
		return SendResult{}, t.fail(internal("record transaction failed", errTx))
	}
	t.advance(StageTransactionRecorded, log.Fields{"transaction_id": txID})

	newBalance, errDebit := c.ledger.Debit(ctx, req.UserID, txID, cost)
	if errDebit != nil {
		if errMark := c.ledger.MarkFailed(ctx, txID, apperr.MessageOf(errDebit)); errMark != nil {
			t.logger.WithError(errMark).WithField("transaction_id", txID).Error("chat: mark transaction failed")
		}
		if apperr.KindOf(errDebit) == apperr.KindInsufficientFunds {
			return SendResult{}, t.fail(errDebit)
		}
		return SendResult{}, t.fail(internal("debit failed", errDebit))
	}
	t.advance(StageBalanceDebited, log.Fields{"balance": newBalance})

	if req.APIKeyID != nil && c.usage != nil {
		tokens := clampTokens(completion.PromptTokens) + clampTokens(completion.CompletionTokens)
		if errUsage := c.usage.RecordUsage(ctx, *req.APIKeyID, tokens, cost); errUsage != nil {
			t.logger.WithError(errUsage).WithField("api_key_id", *req.APIKeyID).Warn("chat: record api key usage failed")
		}
	}

	t.advance(StageDone, nil)
	result.TransactionID = txID
	result.Balance = newBalance
	return result, nil
}

func (c *Coordinator) resolveModel(ctx context.Context, name string) (metering.Pricing, error) {
	if name == "" {
		return metering.Pricing{}, apperr.New(apperr.KindInvalidArgument, "model is required")
	}
	if c.catalog == nil {
		return metering.Pricing{}, nil
	}
	entry, errLookup := c.catalog.Lookup(ctx, name)
	if errLookup != nil {
		return metering.Pricing{}, errLookup
	}
	if entry == nil || entry.Status != models.ModelStatusActive {
		return metering.Pricing{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("model %q is not available", name))
	}
	return metering.Pricing{Input: entry.InputTokenPrice, Output: entry.OutputTokenPrice}, nil
}

func toPrompt(history []models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// internal reports a storage failure after the model call as internal_error.
func internal(msg string, err error) error {
	return apperr.Wrap(apperr.KindInternal, msg, err)
}

func clampTokens(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
