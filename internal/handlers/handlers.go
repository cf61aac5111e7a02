package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/api/internal/config"
	"authgate/api/internal/middleware"
	"authgate/api/internal/models"
	"authgate/api/internal/repository"
	"authgate/api/internal/service"
)

type HandlerSet struct {
	log   zerolog.Logger
	cfg   *config.AppConfig
	auth  *service.AuthService
	admin *service.AdminService
	users middleware.UserLoader
	db    *pgxpool.Pool
	cache *redis.Client
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, cfg *config.AppConfig) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	auth := service.NewAuthService(userRepo, cfg, log)
	admin := service.NewAdminService(userRepo, cache, log)

	return HandlerSet{
		log:   log,
		cfg:   cfg,
		auth:  auth,
		admin: admin,
		users: userRepo,
		db:    db,
		cache: cache,
	}
}

func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.cfg, h.users))
		protected.POST("/logout", h.Logout)
		protected.POST("/logout-all", h.LogoutAll)
		protected.GET("/profile", h.Profile)

		admin := v1.Group("/admin")
		admin.Use(
			middleware.Auth(h.cfg, h.users),
			middleware.RequireRoles(models.UserRoleAdmin),
		)
		admin.GET("/users", h.AdminListUsers)
		admin.GET("/users/:userId", h.AdminGetUser)
		admin.PATCH("/users/:userId/role", h.AdminUpdateUserRole)
		admin.DELETE("/users/:userId", h.AdminDeleteUser)
		admin.GET("/dashboard", h.AdminDashboard)
	}
}
