package notifications

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/charlesng35/seatkeeper/pkg/logger"
)

// LogSender writes notifications to the log instead of delivering them. Link variables are
// included so local setups can follow them.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender on the notifications module logger.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.WithModule("notifications")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	keys := make([]string, 0, len(msg.Vars))
	for k := range msg.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := []zap.Field{zap.String("to", msg.To), zap.String("template", string(msg.Template))}
	for _, k := range keys {
		fields = append(fields, zap.String("var."+k, msg.Vars[k]))
	}
	s.log.Info("notification", fields...)
	return nil
}
