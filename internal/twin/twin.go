// Package twin assembles the Frontend API twin: the in-memory store, the
// /v1 handlers and the shared /admin control plane on one router.
package twin

import (
	"fmt"
	"os"

	"github.com/wondertwin-ai/clerkflow/internal/twin/api"
	"github.com/wondertwin-ai/clerkflow/internal/twin/store"
	"github.com/wondertwin-ai/clerkflow/pkg/admin"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

// DefaultPort is the port twin-clerk listens on when none is given.
const DefaultPort = 12112

// Server is a fully wired twin.
type Server struct {
	*twincore.Twin
	Store *store.MemoryStore
	API   *api.Handler
	JWT   *api.JWTManager
}

// New builds a twin from cfg and loads cfg.SeedFile when set.
func New(cfg *twincore.Config) (*Server, error) {
	t := twincore.New(cfg)
	memStore := store.New()

	jwtMgr, err := api.NewJWTManager()
	if err != nil {
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	apiHandler := api.NewHandler(memStore, t.Middleware(), jwtMgr, t.Logger)
	apiHandler.Routes(t.Router)

	admin.NewHandler(memStore, t.Middleware(),
		admin.WithSeeder(memStore),
		admin.WithOutbox(memStore),
		admin.WithConfig(apiHandler.ConfigProvider(t)),
		admin.WithClock(memStore.Clock),
	).Routes(t.Router)

	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		if err := memStore.LoadState(data); err != nil {
			return nil, fmt.Errorf("load seed data: %w", err)
		}
		t.Logger.Info("loaded seed data", "file", cfg.SeedFile)
	}

	return &Server{Twin: t, Store: memStore, API: apiHandler, JWT: jwtMgr}, nil
}
