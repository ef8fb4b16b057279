package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/calling"
	"github.com/pccr10001/trunkie/internal/pbx"
	"github.com/pccr10001/trunkie/internal/repository"
	"github.com/pccr10001/trunkie/internal/worker"
)

// Deps is everything the HTTP layer talks to.
type Deps struct {
	DB          *gorm.DB
	Registry    *board.Registry
	Workers     *worker.Manager
	Switch      *pbx.Switch
	Calling     *calling.Manager // nil disables the monitor
	Messages    *worker.Messages
	Hub         *Hub
	Metrics     http.Handler // nil disables /metrics
	MetricsPath string
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(d.Metrics))
	}

	bh := NewBoardHandler(d.Registry, repository.NewBoardRepository(d.DB), d.Workers, d.Switch, d.Messages)
	ch := NewCallHandler(d.Switch, d.Registry)
	mh := NewMonitorHandler(bh, d.Calling)
	eh := NewEventsHandler(d.Hub, d.Registry)
	cdr := NewCDRHandler(repository.NewCallRecordRepository(d.DB))
	sh := NewSMSHandler(d.DB)
	wh := NewWebhookHandler(repository.NewWebhookRepository(d.DB))
	users := repository.NewUserRepository(d.DB)
	uh := NewUserHandler(users)

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.POST("/login", uh.Login)

		authGroup := apiGroup.Group("/")
		authGroup.Use(AuthMiddleware(users))
		{
			authGroup.POST("/change_password", uh.ChangePassword)

			authGroup.GET("/boards", bh.ListBoards)
			authGroup.GET("/boards/:serial", bh.GetBoard)
			authGroup.GET("/boards/:serial/channels", bh.ListChannels)
			authGroup.GET("/boards/:serial/channels/:channel", bh.GetChannel)
			authGroup.POST("/boards/:serial/channels/:channel/dial", bh.Dial)
			authGroup.POST("/boards/:serial/channels/:channel/sms", bh.SendSMS)
			authGroup.GET("/boards/:serial/channels/:channel/monitor", mh.WS)

			authGroup.GET("/calls", ch.ListCalls)
			authGroup.POST("/calls/:id/answer", ch.Answer)
			authGroup.POST("/calls/:id/hangup", ch.Hangup)
			authGroup.POST("/calls/:id/digits", ch.Digits)
			authGroup.POST("/calls/:id/transfer", ch.Transfer)

			authGroup.GET("/cdr", cdr.ListCalls)
			authGroup.GET("/sms", sh.ListSMS)
			authGroup.POST("/sms/:id/read", sh.MarkRead)
			authGroup.GET("/events", eh.WS)

			adminGroup := authGroup.Group("/")
			adminGroup.Use(AdminOnly())
			{
				adminGroup.PUT("/boards/:serial", bh.UpdateBoard)
				adminGroup.GET("/workers", bh.Workers)
				adminGroup.GET("/monitors", mh.List)

				adminGroup.GET("/webhooks", wh.ListWebhooks)
				adminGroup.POST("/webhooks", wh.CreateWebhook)
				adminGroup.PUT("/webhooks/:id", wh.UpdateWebhook)
				adminGroup.DELETE("/webhooks/:id", wh.DeleteWebhook)

				adminGroup.GET("/users", uh.ListUsers)
				adminGroup.POST("/users", uh.CreateUser)
				adminGroup.PUT("/users/:id", uh.UpdateUser)
				adminGroup.DELETE("/users/:id", uh.DeleteUser)
			}
		}
	}
	return r
}
