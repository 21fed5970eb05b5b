package mylog

import (
	"context"
	"log/slog"
	"os"

	"xianyuagent/app/config"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

// OperatorKey marks a record for the operator channel regardless of its level.
const OperatorKey = "telegram"

func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

func Init(cfg *config.Config) error {
	router := slogmulti.Router()

	router = router.Add(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))

	if cfg.Log.Telegram.Token != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:     slog.LevelDebug,
				Token:     cfg.Log.Telegram.Token,
				Username:  cfg.Log.Telegram.ChatID,
				AddSource: true,
			}.NewTelegramHandler(),
			forOperator,
		)
	}

	slog.SetDefault(slog.New(router.Handler()))

	return nil
}

func forOperator(_ context.Context, r slog.Record) bool {
	flagged := false

	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == OperatorKey {
			flagged = true
			return false
		}

		return true
	})

	return r.Level == slog.LevelError || flagged
}
