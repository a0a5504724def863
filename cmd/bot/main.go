package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/platform"
	tgpub "postbot/internal/platform/telegram"
	"postbot/internal/platform/vk"
	"postbot/internal/publish"
	"postbot/internal/session"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	tgtransport "postbot/internal/transport/telegram"
	logx "postbot/pkg/logx"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	log := logx.NewConsole(cfg.LogLevel)

	st, err := store.Open(store.Config{Path: cfg.DatabasePath}, log)
	if err != nil {
		log.Error("store open failed", logx.String("path", cfg.DatabasePath), logx.Err(err))
		os.Exit(1)
	}
	defer st.Close()

	adapter, err := tgtransport.New(tgtransport.Config{
		Token:       cfg.BotToken,
		PollTimeout: cfg.PollTimeout,
	}, log)
	if err != nil {
		log.Error("telegram adapter init failed", logx.Err(err))
		os.Exit(1)
	}

	registry := platform.NewRegistry()
	registry.Register(store.PlatformTelegram, tgpub.New(adapter))
	registry.Register(store.PlatformVK, vk.New(nil, log))

	orch := publish.New(publish.Config{
		Workers:    cfg.PublishWorkers,
		RatePerSec: cfg.PublishRatePerSec,
	}, st, registry, adapter, log)

	b := bot.New(cfg, st, session.NewManager(), orch, registry, adapter, log)

	updates := make(chan kit.Update, 64)
	if err := adapter.Start(ctx, updates); err != nil {
		log.Error("telegram adapter start failed", logx.Err(err))
		os.Exit(1)
	}

	// Under systemd Type=notify this flips the unit to active; elsewhere it
	// is a no-op.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	}
	log.Info("postbot started", logx.String("db", cfg.DatabasePath))

	b.Run(ctx, updates)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := adapter.Stop(stopCtx); err != nil {
		log.Warn("adapter stop failed", logx.Err(err))
	}
	log.Info("postbot stopped")
}
