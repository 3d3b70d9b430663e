package usecase

import (
	"github.com/google/wire"
)

// ProvidePlugins returns the default plugins, which the manager fills in
func ProvidePlugins() Plugins {
	return Plugins{}
}

// UsecaseSet provides the transaction manager and the use cases built on it
var UsecaseSet = wire.NewSet(
	ProvidePlugins,
	NewTransactionManager,
	NewSubmitIntents,
)
