package app

import (
	"chat-backend/internal/config"
	"chat-backend/internal/events"
	"chat-backend/internal/handlers"
	"chat-backend/internal/metrics"
	"chat-backend/internal/realtime"
	"chat-backend/internal/repository"
	"chat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the collaborators the server is assembled from.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Store     repository.Store
	Presence  services.PresenceMirror
	Publisher events.Publisher
	Registry  *prometheus.Registry
}

// Server is the assembled HTTP and realtime stack.
type Server struct {
	App     *fiber.App
	Users   *services.UserService
	Chats   *services.ChatService
	Router  *realtime.Router
	Gateway *realtime.Gateway
	Engine  *realtime.Engine
}

func NewServer(d Deps) *Server {
	cfg := d.Config
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	m := metrics.New(d.Registry)

	tokens := services.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	userService := services.NewUserService(d.Store, tokens, d.Log)
	presenceService := services.NewPresenceService(d.Store, d.Presence, d.Log)
	chatService := services.NewChatService(d.Store, d.Log)

	router := realtime.NewRouter(m, d.Log)
	gateway := realtime.NewGateway(userService, presenceService, router, m, d.Log, realtime.GatewayOptions{
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
		WriteTimeout:    cfg.WSPongWait / 2,
	})
	engine := realtime.NewEngine(chatService, router, d.Publisher, m, d.Log)

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(d.Log),
		DisableStartupMessage: !cfg.Development(),
	})

	// Middleware
	app.Use(recover.New())
	if cfg.Development() {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: cfg.CORSOrigins != "*",
	}))

	cookie := handlers.AuthCookie{Name: cfg.CookieName, TTL: cfg.TokenTTL, Secure: !cfg.Development()}
	requireAuth := handlers.AuthMiddleware(userService, cfg.CookieName)

	api := app.Group("/api")

	auth := api.Group("/auth")
	signup := handlers.RegisterHandler(userService, cookie)
	me := handlers.MeHandler()
	auth.Post("/register", signup)
	auth.Post("/login", handlers.LoginHandler(userService, cookie))
	auth.Post("/logout", handlers.LogoutHandler(cookie))
	auth.Get("/me", requireAuth, me)
	// Route names used by existing web clients.
	auth.Post("/signup", signup)
	auth.Get("/check", requireAuth, me)

	for _, prefix := range []string{"/users", "/user"} {
		users := api.Group(prefix, requireAuth)
		users.Get("/", handlers.ListUsersHandler(userService, router))
		users.Get("/search", handlers.SearchHandler(userService, chatService))
		users.Get("/:id", handlers.GetUserHandler(userService))
		users.Get("/:id/presence", handlers.PresenceHandler(presenceService))
	}

	chat := api.Group("/chat", requireAuth)
	chat.Get("/", handlers.ListChatsHandler(chatService))
	chat.Post("/", handlers.CreateChatHandler(chatService))
	chat.Get("/exists", handlers.ChatExistsHandler(chatService))
	chat.Post("/messages/read", handlers.MarkReadHandler(engine))
	chat.Get("/:id", handlers.GetChatHandler(chatService))
	chat.Get("/:id/messages", handlers.ListMessagesHandler(chatService))

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	// WebSocket Route
	// Note: Middleware order matters. The upgrade check runs before the
	// handshake token is verified.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(gateway, cfg.CookieName))
	app.Get("/ws", handlers.WebSocketHandler(gateway, engine, handlers.WSOptions{
		ReadLimit:    cfg.WSReadLimit,
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
	}, d.Log))

	return &Server{
		App:     app,
		Users:   userService,
		Chats:   chatService,
		Router:  router,
		Gateway: gateway,
		Engine:  engine,
	}
}
