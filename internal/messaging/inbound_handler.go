package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// DefaultConcurrency is the number of inbound messages processed at once.
const DefaultConcurrency = 8

// replyKeyPrefix namespaces outbox dedupe keys for replies to inbound messages.
const replyKeyPrefix = "reply:"

// Processor turns a customer message into a reply.
type Processor interface {
	Process(ctx context.Context, message, userID, phone string) models.StrategyResponse
}

// ConversationStore is the persistence the inbound pipeline writes to.
type ConversationStore interface {
	store.ReceiptRepo
	store.TurnRepo
	store.DedupRepo
}

// ReplyQueue durably queues outgoing replies.
type ReplyQueue interface {
	EnqueueOutboxMessage(recipient, body, dedupeKey string) (string, error)
}

// InboundOption configures an InboundHandler.
type InboundOption func(*InboundHandler)

// WithReplyQueue routes replies through a durable queue instead of sending inline.
func WithReplyQueue(q ReplyQueue) InboundOption {
	return func(h *InboundHandler) { h.queue = q }
}

// WithConcurrency bounds how many messages are processed in parallel.
func WithConcurrency(n int) InboundOption {
	return func(h *InboundHandler) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

// InboundHandler consumes a Service's inbound and receipt channels, runs each
// message through the Processor and delivers the reply.
type InboundHandler struct {
	svc         Service
	proc        Processor
	store       ConversationStore
	queue       ReplyQueue
	concurrency int
	wg          sync.WaitGroup
}

// NewInboundHandler creates a handler; call Start to begin consuming.
func NewInboundHandler(svc Service, proc Processor, st ConversationStore, opts ...InboundOption) *InboundHandler {
	h := &InboundHandler{svc: svc, proc: proc, store: st, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage runs one inbound message through the pipeline. Duplicate
// message ids are acknowledged without producing a second reply. The user turn
// is stored after processing so the message is not part of its own history.
func (h *InboundHandler) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	userID, err := h.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if msg.ID != "" {
		fresh, err := h.store.RecordInbound(msg.ID, userID)
		if err != nil {
			slog.Error("InboundHandler.HandleMessage: dedup record failed", "error", err, "id", msg.ID)
		} else if !fresh {
			slog.Debug("InboundHandler.HandleMessage: duplicate message ignored", "id", msg.ID, "from", userID)
			return nil
		}
	}

	received := msg.Time
	if received == 0 {
		received = time.Now().Unix()
	}
	userTurn := models.Turn{UserID: userID, Phone: userID, Role: models.TurnRoleUser, Body: msg.Body, Time: received}

	resp := h.proc.Process(ctx, msg.Body, userID, userID)
	if resp.Response == "" {
		slog.Warn("InboundHandler.HandleMessage: processor returned empty reply", "from", userID)
		h.addTurn(userTurn)
		h.markProcessed(msg.ID)
		return nil
	}

	if err := h.deliver(ctx, userID, resp.Response, msg.ID); err != nil {
		// Let a transport redelivery of the same id try again.
		if msg.ID != "" {
			if ferr := h.store.ForgetInbound(msg.ID); ferr != nil {
				slog.Warn("InboundHandler.HandleMessage: failed to release dedup record", "error", ferr, "id", msg.ID)
			}
		}
		return err
	}

	h.addTurn(userTurn)
	h.addTurn(models.Turn{
		UserID:       userID,
		Phone:        userID,
		Role:         models.TurnRoleAssistant,
		Body:         resp.Response,
		StrategyUsed: resp.StrategyUsed,
		Success:      resp.Success,
		Confidence:   resp.Confidence,
		Time:         time.Now().Unix(),
	})
	h.markProcessed(msg.ID)
	slog.Info("InboundHandler.HandleMessage: replied", "from", userID, "strategy", resp.StrategyUsed, "success", resp.Success)
	return nil
}

func (h *InboundHandler) addTurn(t models.Turn) {
	if err := h.store.AddTurn(t); err != nil {
		slog.Warn("InboundHandler.addTurn: failed to record turn", "error", err, "role", t.Role, "from", t.UserID)
	}
}

func (h *InboundHandler) markProcessed(id string) {
	if id == "" {
		return
	}
	if err := h.store.MarkProcessed(id); err != nil {
		slog.Warn("InboundHandler.markProcessed: mark processed failed", "error", err, "id", id)
	}
}

func (h *InboundHandler) deliver(ctx context.Context, to, body, inboundID string) error {
	if h.queue == nil {
		if err := h.svc.SendMessage(ctx, to, body); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}
		return nil
	}
	key := ""
	if inboundID != "" {
		key = replyKeyPrefix + inboundID
	}
	id, err := h.queue.EnqueueOutboxMessage(to, body, key)
	if err != nil {
		return fmt.Errorf("failed to queue reply: %w", err)
	}
	slog.Debug("InboundHandler.deliver: reply queued", "outbox_id", id, "to", to)
	return nil
}

// Start consumes inbound messages and receipts until ctx is cancelled or the
// service channels close.
func (h *InboundHandler) Start(ctx context.Context) {
	slog.Info("InboundHandler.Start: processing inbound messages", "concurrency", h.concurrency)
	sem := make(chan struct{}, h.concurrency)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case msg, ok := <-h.svc.Inbound():
				if !ok {
					slog.Debug("InboundHandler.Start: inbound channel closed")
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				h.wg.Add(1)
				go func(m models.InboundMessage) {
					defer h.wg.Done()
					defer func() { <-sem }()
					if err := h.HandleMessage(ctx, m); err != nil {
						slog.Error("InboundHandler.Start: failed to handle message", "error", err, "from", m.From)
					}
				}(msg)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer h.wg.Done()
		for {
			select {
			case r, ok := <-h.svc.Receipts():
				if !ok {
					return
				}
				if err := h.store.AddReceipt(r); err != nil {
					slog.Warn("InboundHandler.Start: failed to store receipt", "error", err, "to", r.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the consuming goroutines and in-flight messages finish.
func (h *InboundHandler) Wait() {
	h.wg.Wait()
}

// OutboxSendFunc adapts a Service to the outbox sender callback.
func OutboxSendFunc(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		return svc.SendMessage(ctx, msg.Recipient, msg.Body)
	}
}
