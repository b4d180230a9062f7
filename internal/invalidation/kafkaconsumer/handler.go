package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// claimHandler feeds each partition claim to apply in offset order. An
// offset is marked only once its event was applied; a failed apply ends the
// claim and the event is read again after the next rebalance.
type claimHandler struct {
	apply  func(context.Context, *sarama.ConsumerMessage) error
	logger *slog.Logger
}

func (c *Consumer) handler() *claimHandler {
	return &claimHandler{apply: c.ProcessOne, logger: c.logger}
}

func (h *claimHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.logger.Info("layer change partitions assigned",
		"member", s.MemberID(), "generation", s.GenerationID(), "claims", s.Claims())
	return nil
}

func (h *claimHandler) Cleanup(s sarama.ConsumerGroupSession) error {
	h.logger.Info("layer change partitions released", "member", s.MemberID())
	return nil
}

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	msgs := claim.Messages()
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			msg = m
		}
		if err := h.apply(ctx, msg); err != nil {
			return fmt.Errorf("apply layer change %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
}
