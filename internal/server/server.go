// Package server wires the webhook handlers, health checks, and middleware
// into a Fiber application.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/positivitypush/backend/internal/bot"
	"github.com/positivitypush/backend/internal/config"
	"github.com/positivitypush/backend/internal/payments"
)

// Server is the HTTP front for the webhook backend.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	payments *payments.Interpreter
	bot      *bot.Handler
	logger   *slog.Logger
}

// New creates the Fiber application with all routes and middleware
// registered.
func New(cfg *config.Config, paymentInterp *payments.Interpreter, botHandler *bot.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "Positivity Push API",
			DisableStartupMessage: cfg.IsProduction(),
		}),
		cfg:      cfg,
		payments: paymentInterp,
		bot:      botHandler,
		logger:   logger.With("component", "server"),
	}

	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PUT,DELETE",
	}))
	s.app.Use(func(c *fiber.Ctx) error {
		s.logger.Debug("Handling request", "method", c.Method(), "path", c.Path())
		return c.Next()
	})

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/", s.handleRoot)
	s.app.Get("/health", s.handleHealth)

	s.app.Post("/stripe/webhook", s.handleStripeWebhook)
	s.app.Get("/stripe/health", staticHealth("stripe-webhook"))

	s.app.Get("/whatsapp/webhook", s.handleWhatsAppVerify)
	s.app.Post("/whatsapp/webhook", s.handleWhatsAppWebhook)
	s.app.Get("/whatsapp/health", staticHealth("whatsapp-webhook"))
}

// Listen starts serving on the configured port and blocks until shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("Starting HTTP server", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	docs := "disabled"
	if !s.cfg.IsProduction() {
		docs = "/docs"
	}
	return c.JSON(fiber.Map{
		"message":     "Positivity Push API",
		"description": "WhatsApp-based AI coaching service",
		"version":     "1.0.0",
		"endpoints": fiber.Map{
			"health":           "/health",
			"stripe_webhook":   "/stripe/webhook",
			"whatsapp_webhook": "/whatsapp/webhook",
			"docs":             docs,
		},
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "service": "positivity-push-api"})
}

func staticHealth(service string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "service": service})
	}
}

// handleStripeWebhook feeds the raw body and signature header into the
// payment-event interpreter. Signature and payload failures come back as
// 400 before any state was touched; dispatch failures as 500 so Stripe
// retries the delivery.
func (s *Server) handleStripeWebhook(c *fiber.Ctx) error {
	err := s.payments.ProcessEvent(c.UserContext(), c.Body(), c.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrMalformedPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "Webhook processing failed"})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// handleWhatsAppVerify implements Meta's webhook verification handshake.
func (s *Server) handleWhatsAppVerify(c *fiber.Ctx) error {
	challenge, err := s.bot.VerifyChallenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"detail": "Webhook verification failed"})
	}
	return c.SendString(strconv.Itoa(challenge))
}

// handleWhatsAppWebhook parses the delivery envelope and hands it to the
// chat-event handler. Only an unparseable body fails the delivery;
// individual message failures are contained inside the handler so Meta
// never retries a whole batch over one bad message.
func (s *Server) handleWhatsAppWebhook(c *fiber.Ctx) error {
	var payload bot.WebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		s.logger.Error("Error parsing WhatsApp webhook body", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "Webhook processing failed"})
	}

	s.bot.ProcessWebhook(c.UserContext(), &payload)
	return c.JSON(fiber.Map{"status": "success"})
}
