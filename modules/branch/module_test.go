package branch

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/application"
	"github.com/iota-uz/branchboard/pkg/configuration"
)

func testConfig() *configuration.Configuration {
	conf := &configuration.Configuration{}
	conf.Import.Dataset = "default"
	conf.Import.PersonKey = "name"
	conf.Import.Suggestions = true
	return conf
}

func TestModule_Register(t *testing.T) {
	logger, _ := test.NewNullLogger()
	app := application.New(&application.ApplicationOptions{Logger: logger})

	require.NoError(t, application.LoadModules(app, NewModule(&ModuleOptions{Config: testConfig()})))

	keys := make([]string, 0)
	for _, c := range app.Controllers() {
		keys = append(keys, c.Key())
	}
	require.ElementsMatch(t, []string{"/branch/api/imports", "/branch/api/maintenance", "/health"}, keys)
	require.NotNil(t, app.Service(services.Importer{}))
	require.NotNil(t, app.Service(services.MaintenanceService{}))
}

func TestModule_RejectsBadPersonKey(t *testing.T) {
	logger, _ := test.NewNullLogger()
	app := application.New(&application.ApplicationOptions{Logger: logger})
	conf := testConfig()
	conf.Import.PersonKey = "email"
	require.Error(t, NewModule(&ModuleOptions{Config: conf}).Register(app))
}
