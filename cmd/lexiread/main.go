package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	lexiread "github.com/lexiread/lexiread-go"
)

func Cors() gin.HandlerFunc {
	return func(context *gin.Context) {
		method := context.Request.Method
		context.Header("Access-Control-Allow-Origin", "*")
		context.Header("Access-Control-Allow-Headers", "Content-Type, AccessToken, X-CSRF-Token, Authorization, Token")
		context.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		context.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Content-Type")
		context.Header("Access-Control-Allow-Credentials", "true")
		if method == "OPTIONS" {
			context.AbortWithStatus(http.StatusNoContent)
			return
		}
		context.Next()
	}
}

func bind[T any](handle func(c *gin.Context, req *T) any) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := new(T)
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusOK, CommonResponse{Code: http.StatusBadRequest, Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, handle(c, req))
	}
}

func newRouter(s *service) *gin.Engine {
	r := gin.Default()
	r.Use(Cors())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.POST("/login", bind(func(c *gin.Context, req *LoginRequest) any {
		return s.Login(c.Request.Context(), req)
	}))
	r.POST("/register", bind(func(c *gin.Context, req *RegisterRequest) any {
		return s.Register(c.Request.Context(), req)
	}))
	r.POST("/logout", bind(func(c *gin.Context, req *UserIdRequest) any {
		return s.Logout(c.Request.Context(), req)
	}))
	r.POST("/password/forgot", bind(func(c *gin.Context, req *ForgotPasswordRequest) any {
		return s.ForgotPassword(c.Request.Context(), req)
	}))
	r.POST("/password/resend", bind(func(c *gin.Context, req *UserIdRequest) any {
		return s.ResendOTP(c.Request.Context(), req)
	}))
	r.POST("/password/verify", bind(func(c *gin.Context, req *VerifyOTPRequest) any {
		return s.VerifyOTP(c.Request.Context(), req)
	}))
	r.POST("/password/reset", bind(func(c *gin.Context, req *ResetPasswordRequest) any {
		return s.ResetPassword(c.Request.Context(), req)
	}))
	r.POST("/ask", bind(func(c *gin.Context, req *AskRequest) any {
		return s.Ask(c.Request.Context(), req)
	}))
	r.GET("/messages", func(c *gin.Context) {
		userId := c.Query("user_id")
		if userId == "" {
			c.JSON(http.StatusOK, CommonResponse{Code: http.StatusBadRequest, Message: "user_id is required"})
			return
		}
		c.JSON(http.StatusOK, s.Messages(userId))
	})
	return r
}

func main() {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(os.Getenv("LEXIREAD_LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	config, err := lexiread.ConfigFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	s, err := newService(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("service setup failed")
	}

	addr := os.Getenv("LEXIREAD_GATEWAY_ADDR")
	if addr == "" {
		addr = ":8088"
	}
	server := &http.Server{Addr: addr, Handler: newRouter(s)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", addr).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("gateway stopped")
	}
}
