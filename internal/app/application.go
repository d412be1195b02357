// Package app wires the application services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"

	applicationsvc "github.com/lendcore/application_layer/internal/app/services/applications"
	tagsvc "github.com/lendcore/application_layer/internal/app/services/tags"
	"github.com/lendcore/application_layer/internal/app/storage"
	"github.com/lendcore/application_layer/internal/app/storage/memory"
	"github.com/lendcore/application_layer/internal/app/system"
	"github.com/lendcore/application_layer/internal/directory"
	"github.com/lendcore/application_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Applications storage.ApplicationStore
	Tags         storage.TagStore
}

// Directories encapsulates the external directory clients. Nil user/product
// directories default to the fail-closed offline clients; a nil tag
// directory defaults to the in-process tag service over the tag store.
type Directories struct {
	Users    directory.UserDirectory
	Products directory.ProductDirectory
	Tags     directory.TagDirectory
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Applications *applicationsvc.Service
	Tags         *tagsvc.Service
}

// New builds a fully initialised application with the provided stores and
// directories.
func New(stores Stores, dirs Directories, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Applications == nil {
		stores.Applications = mem
	}
	if stores.Tags == nil {
		stores.Tags = mem
	}

	if dirs.Users == nil {
		log.Warn("user directory not configured; running fail-closed")
		dirs.Users = directory.NewOfflineUserDirectory(log)
	}
	if dirs.Products == nil {
		log.Warn("product directory not configured; running fail-closed")
		dirs.Products = directory.NewOfflineProductDirectory(log)
	}

	tagService := tagsvc.NewService(stores.Tags, log)
	if dirs.Tags == nil {
		dirs.Tags = tagService
	}

	appService := applicationsvc.NewService(stores.Applications, dirs.Users, dirs.Products, dirs.Tags, log)

	manager := system.NewManager()
	for _, name := range []string{"applications", "tags"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Applications: appService,
		Tags:         tagService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
