package webhook

import (
	"calendar-sync/core/cache"
	auditService "calendar-sync/modules/audit/service"
	"calendar-sync/modules/connection/repository"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/sync/guard"
	syncService "calendar-sync/modules/sync/service"
	"calendar-sync/modules/webhook/controller"
	"calendar-sync/modules/webhook/handler"
	"calendar-sync/modules/webhook/router"
	"calendar-sync/modules/webhook/service"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

type Deps struct {
	Sources     repository.SourceRepository
	Connections repository.ConnectionRepository
	Credentials service.CredentialSource
	Registry    *provider.Registry
	Guard       *guard.Guard
	Cache       cache.Cache
	Dispatcher  syncService.DispatcherInterface
	Audit       auditService.Recorder
	BaseURL     string
}

type Module struct {
	Channels   *service.ChannelService
	Controller *controller.WebhookController
}

func Init(e *echo.Echo, mux *asynq.ServeMux, d Deps) (*Module, error) {
	channels := service.NewChannelService(d.Sources, d.Connections, d.Credentials, d.Registry, d.Guard, d.Audit, d.BaseURL)
	ingest, err := service.NewIngestService(d.Sources, d.Connections, d.Cache, d.Dispatcher, d.Audit)
	if err != nil {
		return nil, err
	}
	ctrl := controller.NewWebhookController(ingest)

	handler.NewRenewHandler(channels).Register(mux)
	router.NewWebhookRouter(ctrl).Setup(e)
	return &Module{Channels: channels, Controller: ctrl}, nil
}
