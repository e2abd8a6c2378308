package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soundproof/cache"
	"soundproof/config"
	"soundproof/core/analytics"
	"soundproof/core/audio"
	"soundproof/core/auth"
	"soundproof/core/ens"
	"soundproof/core/neynar"
	"soundproof/core/playback"
	"soundproof/core/taco"
	"soundproof/core/upload"
	"soundproof/db"
	"soundproof/logger"
	"soundproof/repository"
	"soundproof/storage"

	"github.com/gorilla/mux"
)

const (
	blobMaxAge     = 6 * time.Hour
	blobSweepEvery = 10 * time.Minute
	neynarCacheTTL = 5 * time.Minute
	ensCacheTTL    = time.Hour
)

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter registers every route on a gorilla/mux router.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	// mux only runs middleware on matched routes; let preflights match.
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// 认证
	router.HandleFunc("/api/auth/farcaster", h.FarcasterAuthHandler).Methods(http.MethodPost)

	// 歌曲
	router.HandleFunc("/api/tracks/recent", h.RecentTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/popular", h.PopularTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/search", h.SearchTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/genre/{genre}", h.GenreTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id:[0-9]+}", h.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id:[0-9]+}/play", h.RecordPlayHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id:[0-9]+}/stats", h.TrackStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/upload", h.AuthMiddleware(h.UploadTrackHandler)).Methods(http.MethodPost)

	// 用户
	router.HandleFunc("/api/users", h.ListUsersHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/users/wallet/{address}", h.UserByWalletHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{fid:[0-9]+}", h.GetUserHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{fid:[0-9]+}", h.AuthMiddleware(h.UpdateUserHandler)).Methods(http.MethodPut, http.MethodPost)
	router.HandleFunc("/api/users/{fid:[0-9]+}", h.AuthMiddleware(h.DeleteUserHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/users/{fid:[0-9]+}/tracks", h.UserTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{fid:[0-9]+}/tracks", h.AuthMiddleware(h.CreateUserTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/users/{fid:[0-9]+}/tracks", h.AuthMiddleware(h.UpdateUserTrackHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/users/{fid:[0-9]+}/tracks", h.AuthMiddleware(h.DeleteUserTrackHandler)).Methods(http.MethodDelete)

	// Farcaster 社交图谱
	router.HandleFunc("/api/social/users/{fid:[0-9]+}", h.SocialUserHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/social/users/{fid:[0-9]+}/casts", h.SocialCastsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/social/users/{fid:[0-9]+}/followers", h.SocialFollowersHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/social/users/{fid:[0-9]+}/following", h.SocialFollowingHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/social/username/{username}", h.SocialUsernameHandler).Methods(http.MethodGet)

	// 播放
	router.HandleFunc("/ws/playback", h.PlaybackWSHandler).Methods(http.MethodGet)
	router.HandleFunc("/blob/{id}", h.BlobHandler).Methods(http.MethodGet, http.MethodHead)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	return router
}

// buildDeps connects the backing services and wires the domain components.
// The returned func releases what was opened.
func buildDeps(ctx context.Context, cfg *config.Config) (Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return Deps{}, cleanup, err
	}
	closers = append(closers, func() { db.CloseGormDB() })

	version, err := db.Migrate(db.GormDB)
	if err != nil {
		return Deps{}, cleanup, err
	}
	logger.Info("schema ready", logger.Int("version", version))

	// Redis 不可用时退化为进程内缓存
	var store cache.Store
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", logger.ErrorField(err))
		store = cache.NewMemoryStore()
	} else {
		store = cache.NewRedisStore(cache.RedisClient)
		closers = append(closers, func() { cache.CloseRedis() })
	}

	var mirror storage.ObjectMirror
	if cfg.MirrorEnabled() {
		m, err := storage.NewMirror(ctx, cfg)
		if err != nil {
			logger.Warn("MinIO mirror disabled", logger.ErrorField(err))
		} else {
			mirror = m
		}
	}
	lighthouse := storage.NewLighthouse(cfg)
	content := storage.NewContentStore(lighthouse, lighthouse, mirror)

	var publisher analytics.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := analytics.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = producer
		closers = append(closers, func() { producer.Close() })
	}

	trackRepo := repository.NewGormTrackRepository(db.GormDB)
	userRepo := repository.NewGormUserRepository(db.GormDB)
	playRepo := repository.NewGormPlayEventRepository(db.GormDB)
	trackCache := cache.NewTrackCache(store, cfg.CacheTTL)

	neynarClient := neynar.NewClient(cfg.NeynarBaseURL, cfg.NeynarAPIKey).WithCache(store, neynarCacheTTL)
	tacoClient := taco.NewClient(cfg)
	prober := audio.NewFFprobe(cfg.FFprobePath)

	var names NameLookup
	if cfg.ENSRPCURL != "" {
		names = ens.NewResolver(cfg.ENSRPCURL).WithCache(store, ensCacheTTL)
	}

	deps := Deps{
		Tracks:    trackRepo,
		Users:     userRepo,
		Feeds:     trackCache,
		Auth:      auth.NewService(neynarClient, userRepo, auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)),
		Social:    neynarClient,
		Uploads:   upload.NewService(content, tacoClient, trackRepo, prober, trackCache),
		Plays:     analytics.NewRecorder(trackRepo, playRepo, trackCache, publisher),
		Stats:     playRepo,
		Names:     names,
		Blobs:     playback.NewBlobStore(cfg.PublicBaseURL),
		Gateway:   content,
		Decrypter: tacoClient,
		Elements:  playback.NewClockFactory(playback.ClockConfig{Prober: prober}),
		ChainID:   tacoClient.ChainID(),
		// fetch plus threshold decryption of a large file
		LoadTimeout: 2 * time.Minute,
		PingDB: func(ctx context.Context) error {
			sqlDB, err := db.GormDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	return deps, cleanup, nil
}

// sweepBlobs drops blobs left behind by sessions that never closed cleanly.
func sweepBlobs(ctx context.Context, blobs *playback.BlobStore) {
	ticker := time.NewTicker(blobSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := blobs.Sweep(blobMaxAge); n > 0 {
				logger.Info("swept stale blobs", logger.Int("count", n))
			}
		}
	}
}

// Start initializes and starts the HTTP server.
func Start(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := buildDeps(ctx, cfg)
	defer cleanup()
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", logger.ErrorField(err))
	}

	apiHandler := NewAPIHandler(deps)
	go sweepBlobs(ctx, apiHandler.Blobs)

	// 设置服务器超时; WriteTimeout 留空以免截断 websocket 和大文件上传
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     NewRouter(apiHandler),
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", server.Addr))
		logger.Info("Playback sessions via ws://localhost:" + cfg.ServerPort + "/ws/playback")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 创建一个5秒超时的上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}
