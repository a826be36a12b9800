package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"onyx-server/handlers"
	"onyx-server/intake"
	"onyx-server/middleware"
	"onyx-server/scheduler"
	"onyx-server/store"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	middleware.SetSecret(os.Getenv("JWT_SECRET"))

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./onyx.db"
	}

	s, err := store.New(dbPath)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer s.Close()

	sched := scheduler.New()
	defer sched.Stop()

	hub := handlers.NewHub()
	engine := intake.New(s, sched, hub.SendBotMessage)
	hub.SetEngine(engine)

	// Armed jobs do not survive a restart; re-arm everything still in the future.
	if err := engine.RearmAll(); err != nil {
		log.Fatal("Failed to re-arm pending reminders:", err)
	}
	engine.StartSessionSweeper()

	authHandler := handlers.NewAuthHandler(s)
	reminderHandler := handlers.NewReminderHandler(s, engine)

	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/ws", hub.HandleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Protected routes (auth required)
	mux.HandleFunc("GET /api/auth/me", withAuth(authHandler.Me))
	mux.HandleFunc("GET /api/reminders", withAuth(reminderHandler.List))
	mux.HandleFunc("POST /api/reminders", withAuth(reminderHandler.Create))
	mux.HandleFunc("DELETE /api/reminders/{id}", withAuth(reminderHandler.Delete))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Onyx reminder server starting on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, mux))
}

// withAuth wraps a handler with authentication
func withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := middleware.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := middleware.SetUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
