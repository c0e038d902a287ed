package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/gin-contrib/cors"
    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    "golang.org/x/sync/errgroup"

    "github.com/kiliankoe/hueduel/internal/api"
    "github.com/kiliankoe/hueduel/internal/cache"
    "github.com/kiliankoe/hueduel/internal/config"
    "github.com/kiliankoe/hueduel/internal/game"
    "github.com/kiliankoe/hueduel/internal/match"
    "github.com/kiliankoe/hueduel/internal/realtime"
    "github.com/kiliankoe/hueduel/internal/store"
    "github.com/kiliankoe/hueduel/internal/ws"
)

const version = "v1.0.0-dev"

func main() {
    var (
        showHelp    = flag.Bool("help", false, "Show help message")
        showVersion = flag.Bool("version", false, "Show version information")
        portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
    )
    flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
    flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
    flag.Parse()

    if *showHelp {
        fmt.Printf(`HueDuel - Real-time multiplayer color matching

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables (also read from .env):
  PORT            Port to listen on (default: 8080)
  DATABASE_URL    PostgreSQL DSN; records stay in memory when unset
  REDIS_URL       Redis URL for the solo rank index (optional)
  ROUND_MODE      "simultaneous" or "turn" (default: simultaneous)
  TURN_SECONDS    Turn deadline in seconds (default: 40)
  SWEEP_INTERVAL  How often expired turns are checked (default: 2s)
  WRITE_QUEUE     Pending record writes before new ones are dropped (default: 1024)
  CORS_ORIGINS    Comma-separated allowed origins (default: *)
  EXPORT_ENABLED  Append final standings to a file (default: false)
  EXPORT_FILE     Path for exported results (default: ./hueduel-results.txt)
  LOG_LEVEL       debug, info, warn or error (default: info)
  LOG_JSON        Log JSON instead of console output (default: false)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
        return
    }

    if *showVersion {
        fmt.Printf("HueDuel %s\n", version)
        return
    }

    cfg := config.Load()
    if *portFlag != "" {
        cfg.Port = *portFlag
    }
    setupLogging(cfg)

    if err := run(cfg); err != nil {
        log.Fatal().Err(err).Msg("server stopped")
    }
    log.Info().Msg("server exited")
}

func setupLogging(cfg config.Config) {
    zerolog.TimeFieldFormat = time.RFC3339
    if !cfg.LogJSON {
        cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
        log.Logger = log.Output(cw)
    }
    level, err := zerolog.ParseLevel(cfg.LogLevel)
    if err != nil || level == zerolog.NoLevel {
        level = zerolog.InfoLevel
    }
    zerolog.SetGlobalLevel(level)
}

func run(cfg config.Config) error {
    mode, err := match.ParseMode(cfg.RoundMode)
    if err != nil {
        return err
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    records, err := openStore(ctx, cfg)
    if err != nil {
        return err
    }
    defer records.Close()

    var rdb *redis.Client
    if cfg.RedisURL != "" {
        rdb, err = cache.Connect(ctx, cfg.RedisURL)
        if err != nil {
            log.Warn().Err(err).Msg("redis unavailable, solo ranks read from the store")
            rdb = nil
        } else {
            defer rdb.Close()
        }
    }

    writer := store.NewWriter(records, cfg.WriteQueue)
    defer writer.Close()

    opts := []game.Option{game.WithTurnDuration(cfg.TurnDuration)}
    if cfg.ExportEnabled {
        opts = append(opts, game.WithExport(cfg.ExportFile))
    }
    reg := game.NewRegistry(writer, opts...)
    coord := game.NewCoordinator(reg)
    bc := realtime.New(realtime.DefaultOutbox)
    defer bc.Close()
    solo := cache.NewSoloRanks(rdb, records)
    if rdb != nil {
        if err := solo.Rebuild(ctx); err != nil {
            log.Warn().Err(err).Msg("solo rank index not rebuilt, ranks read from the store")
        }
    }
    svc := match.New(coord, bc, solo, mode)
    sweeper := game.NewSweeper(coord, cfg.SweepInterval, svc.HandleTimeout)

    r := newRouter(cfg)
    api.New(svc).Register(r)
    io := ws.New(svc, bc).Mount(r)

    srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        if err := io.Serve(); err != nil && gctx.Err() == nil {
            return fmt.Errorf("socket.io: %w", err)
        }
        return nil
    })
    g.Go(func() error {
        log.Info().Str("port", cfg.Port).Str("mode", string(mode)).Msg("listening")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return err
        }
        return nil
    })
    g.Go(func() error {
        return sweeper.Run(gctx)
    })
    g.Go(func() error {
        <-gctx.Done()
        log.Info().Msg("shutting down server...")
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := srv.Shutdown(shutdownCtx); err != nil {
            log.Error().Err(err).Msg("http shutdown")
        }
        return io.Close()
    })
    return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
    if cfg.DatabaseURL == "" {
        log.Warn().Msg("DATABASE_URL not set, records are kept in memory")
        return store.NewMemory(), nil
    }
    pg, err := store.Connect(ctx, cfg.DatabaseURL)
    if err != nil {
        return nil, err
    }
    if err := pg.Migrate(ctx); err != nil {
        pg.Close()
        return nil, err
    }
    log.Info().Msg("connected to postgres")
    return pg, nil
}

func newRouter(cfg config.Config) *gin.Engine {
    gin.SetMode(gin.ReleaseMode)
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(corsMiddleware(cfg.CORSOrigins))
    // Request logging, skipping /socket.io polling noise
    r.Use(func(c *gin.Context) {
        start := time.Now()
        c.Next()
        path := c.Request.URL.Path
        if strings.HasPrefix(path, "/socket.io") {
            return
        }
        log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
    })

    r.GET("/health", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
    })
    r.GET("/metrics", gin.WrapH(promhttp.Handler()))
    return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
    cc := cors.Config{
        AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
        AllowHeaders: []string{"Origin", "Content-Type", "X-Country"},
        MaxAge:       12 * time.Hour,
    }
    if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
        cc.AllowAllOrigins = true
    } else {
        cc.AllowOrigins = origins
        cc.AllowCredentials = true
    }
    return cors.New(cc)
}
