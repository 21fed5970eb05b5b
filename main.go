package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"xianyuagent/app/client/llm"
	"xianyuagent/app/client/webhook"
	"xianyuagent/app/config"
	"xianyuagent/app/service/api"
	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/deadletter"
	"xianyuagent/app/service/engine"
	"xianyuagent/app/service/expert"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/queue"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/service/strategy"
	"xianyuagent/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, func(i *do.Injector) (reply.Generator, error) {
		return llm.New(i)
	})
	do.Provide(di, func(i *do.Injector) (reply.Deliverer, error) {
		return webhook.New(i)
	})
	do.Provide(di, deadletter.New)
	do.Provide(di, conversation.New)
	do.Provide(di, identity.New)
	do.Provide(di, strategy.New)
	do.Provide(di, negotiation.New)
	do.Provide(di, expert.New)
	do.Provide(di, queue.New)
	do.Provide(di, engine.New)
	do.Provide(di, api.New)

	engineSvc, err := do.Invoke[*engine.Service](di)
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}

	apiSvc, err := do.Invoke[*api.Service](di)
	if err != nil {
		log.Fatalf("api init failed: %v", err)
	}

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	group, ctx := errgroup.WithContext(appCtx)
	group.Go(func() error {
		return engineSvc.Run(ctx)
	})
	group.Go(func() error {
		return apiSvc.Run(ctx)
	})

	if err = group.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err, mylog.OperatorKey, true)
	}
}
