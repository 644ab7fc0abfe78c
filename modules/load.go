package modules

import (
	"github.com/iota-uz/branchboard/modules/branch"
	"github.com/iota-uz/branchboard/pkg/application"
)

// BuiltInModules lists the modules every binary registers.
func BuiltInModules(branchOpts *branch.ModuleOptions) []application.Module {
	return []application.Module{
		branch.NewModule(branchOpts),
	}
}

func Load(app application.Application, externalModules ...application.Module) error {
	return application.LoadModules(app, externalModules...)
}
