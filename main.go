package main

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/pccr10001/trunkie/internal/api"
	"github.com/pccr10001/trunkie/internal/auth"
	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/calling"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/config"
	"github.com/pccr10001/trunkie/internal/frame"
	"github.com/pccr10001/trunkie/internal/k3l"
	"github.com/pccr10001/trunkie/internal/k3l/sim"
	"github.com/pccr10001/trunkie/internal/logic"
	"github.com/pccr10001/trunkie/internal/mccmnc"
	"github.com/pccr10001/trunkie/internal/metrics"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/pbx"
	"github.com/pccr10001/trunkie/internal/recorder"
	"github.com/pccr10001/trunkie/internal/repository"
	"github.com/pccr10001/trunkie/internal/worker"
	"github.com/pccr10001/trunkie/pkg/logger"
)

func main() {
	// 1. Load Config
	config.LoadConfig()
	cfg := config.AppConfig

	// 2. Init Logger
	logger.InitLogger(cfg.Log.Level)
	logger.Log.Info("Starting trunk driver...")

	// Load MCCMNC
	if err := mccmnc.LoadOperators("mcc_mnc.json"); err != nil {
		logger.Log.Warnf("Failed to load MCC/MNC data: %v", err)
	}

	// 3. Init Database
	db := initDB(cfg.Database)
	auth.Setup(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	// 4. Board runtime
	api0 := newSimBoard(cfg.Boards)
	defer api0.Close()

	codec := frame.ParseCodec(cfg.Audio.Codec)
	mc := metrics.New()
	hub := api.NewHub()
	webhooks := logic.NewWebhookService(repository.NewWebhookRepository(db))
	boardRepo := repository.NewBoardRepository(db)

	var reg *board.Registry
	serialOf := func(device int) string {
		if reg == nil {
			return ""
		}
		return reg.SerialOf(device)
	}
	messages := worker.NewMessages(serialOf, repository.NewSMSRepository(db), boardRepo, webhooks)

	sw := pbx.NewSwitch(repository.NewCallRecordRepository(db), pbx.SwitchOptions{
		AutoAnswer:  cfg.PBX.AutoAnswer,
		AnswerDelay: time.Duration(cfg.PBX.AnswerDelayMs) * time.Millisecond,
		Media:       pbx.MediaMode(cfg.PBX.Media),
		Interval:    time.Duration(cfg.Audio.PBXPacketMs) * time.Millisecond,
		SerialOf:    serialOf,
		OnEnd: func(rec *model.CallRecord) {
			mc.CallEnded(rec)
			webhooks.DispatchCall(rec)
		},
	})

	env := &channel.Env{
		API:             api0,
		Host:            sw,
		Observer:        channel.Observers{mc, hub},
		SMS:             messages,
		LockRetries:     cfg.Driver.LockRetries,
		LockDelay:       time.Duration(cfg.Driver.LockDelayMs) * time.Millisecond,
		Sizing:          frame.NewSizing(cfg.Audio.PBXPacketMs, cfg.Audio.HWPacketMs, cfg.Audio.FramesInFlight),
		Codec:           codec,
		DropCollectCall: cfg.Driver.DropCollectCall,
		Country:         cfg.Driver.Country,
	}
	if cfg.Recording.Enabled {
		rec, err := recorder.New(recorder.Options{Dir: cfg.Recording.Directory, Codec: codec})
		if err != nil {
			logger.Log.Fatalf("Failed to init recorder: %v", err)
		}
		env.Recorder = rec
	}

	// 5. Start Worker Manager
	wm := worker.NewManager(api0, worker.Options{
		EventFifoSize:   cfg.Driver.EventFifoSize,
		CommandFifoSize: cfg.Driver.CommandFifoSize,
		Drops:           mc,
	})
	env.Commands = wm

	var err error
	reg, err = board.New(env)
	if err != nil {
		logger.Log.Fatalf("Failed to init boards: %v", err)
	}
	registerBoards(boardRepo, reg, mc)

	if err := wm.Start(reg); err != nil {
		logger.Log.Fatalf("Failed to start workers: %v", err)
	}
	api0.StartAudioClock(time.Duration(cfg.Audio.HWPacketMs)*time.Millisecond, frame.PacketSize(cfg.Audio.HWPacketMs))

	callMgr, err := calling.NewManager(calling.Config{
		STUNServers: cfg.Calling.STUNServers,
		UDPPortMin:  cfg.Calling.UDPPortMin,
		UDPPortMax:  cfg.Calling.UDPPortMax,
		Codec:       codec,
		FrameMs:     cfg.Audio.PBXPacketMs,
	}, func(device, object int) (calling.Line, error) {
		ch, err := reg.Channel(device, object)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
	if err != nil {
		logger.Log.Fatalf("Failed to init calling manager: %v", err)
	}

	// 6. Start Server
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := api.Deps{
		DB:       db,
		Registry: reg,
		Workers:  wm,
		Switch:   sw,
		Calling:  callMgr,
		Messages: messages,
		Hub:      hub,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = mc.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	r := api.NewRouter(deps)

	port := cfg.Server.Port
	if port[0] != ':' {
		port = ":" + port
	}
	srv := &http.Server{Addr: port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Infof("Server listening on %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Log.Errorf("Server stopped: %v", err)
	}

	// Calls are released first so their records are written before the queues stop.
	_ = callMgr.CloseAll()
	reg.Close()
	sw.Close()
	wm.Stop()
	webhooks.Close()
	boardRepo.MarkAllOffline()
}

func newSimBoard(boards []config.BoardConfig) *sim.Board {
	devices := make([]k3l.DeviceInfo, 0, len(boards))
	for _, b := range boards {
		sig, err := k3l.ParseSignaling(b.Signaling)
		if err != nil {
			logger.Log.Warnf("Board %s: %v, using e1", b.Serial, err)
		}
		devices = append(devices, k3l.DeviceInfo{Serial: b.Serial, Channels: b.Channels, Signaling: sig})
	}
	api0 := sim.New(devices...)
	api0.AutoRespond = true
	return api0
}

func registerBoards(repo *repository.BoardRepository, reg *board.Registry, mc *metrics.Collector) {
	total := 0
	for _, b := range reg.Boards() {
		n := len(b.Channels())
		total += n
		err := repo.Upsert(&model.Board{
			Serial:    b.Serial(),
			Device:    b.Device(),
			Signaling: b.Info.Signaling.String(),
			Channels:  n,
			Status:    "online",
			LastSeen:  time.Now(),
		})
		if err != nil {
			logger.Log.Errorf("[%s] Failed to save board: %v", b.Serial(), err)
		}
		logger.Log.Infof("[%s] Board %d online: %d %s channels", b.Serial(), b.Device(), n, b.Info.Signaling)
	}
	mc.ChannelsAdded(total)
}

func initDB(cfg config.DatabaseConfig) *gorm.DB {
	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		db, err = gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	}
	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", cfg.Driver, err)
	}

	// Auto Migrate
	if err := db.AutoMigrate(&model.User{}, &model.Board{}, &model.CallRecord{}, &model.SMS{}, &model.Webhook{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}

	// Init Admin
	users := repository.NewUserRepository(db)
	count, err := users.Count()
	if err != nil {
		logger.Log.Fatalf("Failed to count users: %v", err)
	}
	if count == 0 {
		randPw := config.AppConfig.Users.DefaultAdminPassword
		if randPw == "" {
			randPw = randomPassword(12)
		}
		hash, err := auth.HashPassword(randPw)
		if err != nil {
			logger.Log.Fatalf("Failed to hash password: %v", err)
		}
		if err := users.Create(&model.User{Username: "admin", PasswordHash: hash, Role: "admin", AllowedBoards: "*"}); err != nil {
			logger.Log.Fatalf("Failed to create admin: %v", err)
		}
		logger.Log.Warnf("INITIAL ADMIN CREATED. Username: admin, Password: %s", randPw)
	}

	return db
}

func randomPassword(n int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ret := make([]byte, n)
	for i := range ret {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			logger.Log.Fatalf("Failed to generate random password: %v", err)
		}
		ret[i] = chars[num.Int64()]
	}
	return string(ret)
}
