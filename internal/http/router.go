package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/boring-game/voice-chat/internal/auth"
	"github.com/boring-game/voice-chat/internal/http/handlers"
	"github.com/boring-game/voice-chat/internal/middleware"
	"github.com/boring-game/voice-chat/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured. The
// websocket entry point authenticates on its own (token query param) so
// it sits outside the auth-middleware group.
func NewRouter(groupHandler *handlers.GroupHandler, serveWS http.HandlerFunc, jwtService *auth.JWTService, userRepo repo.UserRepo, stunURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Get("/ws", serveWS)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))

		iceHandler := handlers.NewICEHandler(stunURL)
		r.Get("/ice-servers", iceHandler.ServeHTTP)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", groupHandler.HandleCreate)
			r.Post("/join", groupHandler.HandleJoin)
			r.Post("/{groupID}/invite", groupHandler.HandleInvite)
			r.Get("/{groupID}/members", groupHandler.HandleMembers)
		})
	})

	return r
}
