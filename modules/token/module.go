package token

import (
	"calendar-sync/core/database"
	auditService "calendar-sync/modules/audit/service"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/token/handler"
	"calendar-sync/modules/token/repository"
	"calendar-sync/modules/token/service"

	"github.com/hibiken/asynq"
)

func Init(db database.IDatabase, mux *asynq.ServeMux, conns service.ConnectionStore, registry *provider.Registry,
	masterKey []byte, audit auditService.Recorder) (*service.Vault, error) {
	cipher, err := service.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	vault := service.NewVault(repository.NewTokenRepository(db), conns, cipher, registry)
	handler.NewRefreshHandler(vault, audit).Register(mux)
	return vault, nil
}
