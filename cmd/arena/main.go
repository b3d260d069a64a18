package main

import (
    "context"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"

    "github.com/park285/cheese-arena/internal/account"
    "github.com/park285/cheese-arena/internal/clock"
    appcfg "github.com/park285/cheese-arena/internal/config"
    "github.com/park285/cheese-arena/internal/coordinator"
    "github.com/park285/cheese-arena/internal/gateway"
    "github.com/park285/cheese-arena/internal/msgcat"
    "github.com/park285/cheese-arena/internal/obslog"
    "github.com/park285/cheese-arena/internal/roomstore"
    "github.com/park285/cheese-arena/internal/rules"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("log init error: %v", err)
    }

    store, err := roomstore.NewRedisStore(cfg.RedisURL, time.Duration(cfg.RoomTTLSec)*time.Second)
    if err != nil {
        log.Fatalf("room store init error: %v", err)
    }

    var accounts account.Store
    if cfg.DatabaseURL != "" {
        repo, err := account.NewRepository(cfg.DatabaseURL)
        if err != nil {
            log.Fatalf("account repo init error: %v", err)
        }
        defer func() { _ = repo.Close() }()
        accounts = repo
    } else {
        // DB 없이도 동작: 전적은 프로세스 수명 동안만 유지
        accounts = account.NewMemStore()
        obslog.L().Warn("account_store_memory_fallback")
    }

    cat, err := msgcat.New(cfg.MsgcatDir)
    if err != nil {
        log.Fatalf("message catalog error: %v", err)
    }

    deps := coordinator.Deps{
        Store:    store,
        Oracle:   rules.New(),
        Clock:    clock.Real(),
        Accounts: accounts,
    }
    gw := gateway.NewServer(deps, store, cat)

    srv := &http.Server{
        Addr:              cfg.ListenAddr,
        Handler:           gw.Routes(),
        ReadHeaderTimeout: 10 * time.Second,
    }
    go func() {
        obslog.L().Info("arena_listen", zap.String("addr", cfg.ListenAddr))
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            obslog.L().Fatal("http_serve_error", zap.Error(err))
        }
    }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
    <-sigCh

    shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = srv.Shutdown(shctx)
    _ = store.Close()
    obslog.L().Info("arena_shutdown")
}
