package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"triphub-server/handlers/api/expenses"
	"triphub-server/handlers/api/groups"
	"triphub-server/handlers/api/messages"
	"triphub-server/handlers/api/presence"
	"triphub-server/handlers/api/rooms"
	"triphub-server/handlers/api/trips"
	"triphub-server/handlers/websocket"
	"triphub-server/images"
	authmw "triphub-server/middleware"
	"triphub-server/realtime"
	"triphub-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type config struct {
	jwtSecret      []byte
	allowedOrigins []string
	s3Bucket       string
	s3PublicURL    string
}

func loadConfig() config {
	cfg := config{
		jwtSecret:   []byte(os.Getenv("JWT_SECRET")),
		s3Bucket:    os.Getenv("S3_BUCKET_NAME"),
		s3PublicURL: os.Getenv("S3_PUBLIC_BASE_URL"),
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.allowedOrigins = append(cfg.allowedOrigins, origin)
		}
	}
	if len(cfg.jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set, every API request will be rejected")
	}
	return cfg
}

func newUploader(cfg config) images.Uploader {
	if cfg.s3Bucket == "" {
		logrus.Info("S3_BUCKET_NAME not set, message images are stored as sent")
		return images.Passthrough{}
	}
	logrus.WithField("bucket", cfg.s3Bucket).Info("Use S3 for message images")
	return images.NewS3Uploader(cfg.s3Bucket, cfg.s3PublicURL)
}

// allowLocalOrigin admits local development hosts when no origins are configured.
func allowLocalOrigin(r *http.Request, origin string) bool {
	parsed, err := url.Parse(origin)
	if origin == "" || err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func setupRouter(store stores.Store, hub *realtime.Hub, uploader images.Uploader, reg *prometheus.Registry, cfg config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(cfg.allowedOrigins) > 0 {
		corsOptions.AllowedOrigins = cfg.allowedOrigins
	} else {
		corsOptions.AllowOriginFunc = allowLocalOrigin
	}
	r.Use(cors.Handler(corsOptions))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(authmw.AuthJWT(cfg.jwtSecret))

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", groups.HandleCreate(store))
			r.Get("/", groups.HandleList(store))
			r.Route("/{groupId}/messages", func(r chi.Router) {
				r.Get("/", groups.HandleListMessages(store))
				r.Post("/", groups.HandleSendMessage(store, uploader, hub, store))
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/{userId}", messages.HandleConversation(store))
			r.Post("/send/{userId}", messages.HandleSend(store, uploader, hub))
		})

		r.Route("/trips", func(r chi.Router) {
			r.Post("/", trips.HandleCreate(store))
			r.Get("/", trips.HandleList(store))
			r.Post("/from-chat", trips.HandleCreateFromChat(store))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", trips.HandleGet(store))
				r.Put("/", trips.HandleUpdate(store))
				r.Delete("/", trips.HandleDelete(store))
				r.Post("/share", trips.HandleShare(store))
				r.Put("/members", trips.HandleUpdateMembers(store))
				r.Get("/expenses", trips.HandleListExpenses(store))
			})
		})

		r.Route("/expense", func(r chi.Router) {
			r.Post("/", expenses.HandleCreate(store))
			r.Get("/", expenses.HandleList(store))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", expenses.HandleGet(store))
				r.Put("/", expenses.HandleUpdate(store))
				r.Delete("/", expenses.HandleDelete(store))
				r.Put("/split", expenses.HandleSplit(store))
			})
		})

		r.Get("/presence", presence.HandleOnlineUsers(hub))
		r.Get("/rooms", rooms.HandleList(store, hub, store))
	})

	return r
}

func waitForShutdown(ioo *socketio.Server, store stores.Store) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)
	if err := store.Close(); err != nil {
		logrus.WithError(err).Error("failed to close store")
	}
	os.Exit(0)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":5001", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := loadConfig()
	store := stores.GetStore()

	hub := realtime.NewHub(nil)
	reg := prometheus.NewRegistry()
	if err := hub.RegisterMetrics(reg); err != nil {
		logrus.WithError(err).Fatal("failed to register metrics")
	}
	ioo := websocket.SetupSocketIO(hub, store, store, cfg.allowedOrigins)

	r := setupRouter(store, hub, newUploader(cfg), reg, cfg)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, store)
}
