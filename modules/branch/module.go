package branch

import (
	"fmt"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/infrastructure/persistence"
	"github.com/iota-uz/branchboard/modules/branch/presentation/controllers"
	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/application"
	"github.com/iota-uz/branchboard/pkg/configuration"
	"github.com/iota-uz/branchboard/pkg/dblock"
)

type ModuleOptions struct {
	Config *configuration.Configuration
	// Locker guards the dataset named by Config.Import.Dataset. Nil disables
	// locking.
	Locker dblock.Locker
}

func NewModule(opts *ModuleOptions) application.Module {
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	conf := m.options.Config
	personKey, err := services.ParsePersonKeyMode(conf.Import.PersonKey)
	if err != nil {
		return err
	}
	catalog := distribution.DefaultCatalog()
	normalizer, err := services.NewNormalizer(catalog)
	if err != nil {
		return fmt.Errorf("build normalizer: %w", err)
	}
	store := persistence.NewStore(app.DB())

	importer := services.NewImporter(store, normalizer, catalog,
		services.WithPersonKey(personKey),
		services.WithSuggestions(conf.Import.Suggestions),
	)
	maintenance := services.NewMaintenanceService(store, catalog, personKey)
	app.RegisterServices(importer, maintenance)

	guard := controllers.Guard{Locker: m.options.Locker, Dataset: conf.Import.Dataset}
	var pinger controllers.Pinger
	if pool := app.DB(); pool != nil {
		pinger = pool
	}
	app.RegisterControllers(
		controllers.NewImportController(controllers.ImportControllerOptions{
			Importer:        importer,
			Guard:           guard,
			MaxUploadSize:   conf.MaxUploadSize,
			MaxUploadMemory: conf.MaxUploadMemory,
		}),
		controllers.NewMaintenanceController(maintenance, guard),
		controllers.NewHealthController(pinger),
	)
	return nil
}

func (m *Module) Name() string {
	return "branch"
}
