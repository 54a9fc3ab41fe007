package recovery

import "context"

// StaleMessageRecoverer is implemented by the outbox sender.
type StaleMessageRecoverer interface {
	RecoverStaleMessages() error
}

// Outbox returns a Recoverable that requeues replies stuck in the sending state.
func Outbox(sender StaleMessageRecoverer) Recoverable {
	return RecoverFunc(func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sender.RecoverStaleMessages()
	})
}
