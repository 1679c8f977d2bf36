// Package server provides the gateway's dependency container and
// lifecycle management.
//
// The central type is ServerContext, which holds every subsystem the
// gateway runs on: configuration, the persistence layer, the cache, the
// catalog, authentication, the plugin framework, the dispatcher,
// federation, the session registry, and the MCP serving engine. It is
// assembled with functional options and torn down in reverse dependency
// order by Shutdown.
//
//	sc, err := server.NewServerContext(ctx,
//		server.WithSettings(settings),
//		server.WithLogger(logger),
//		server.WithStore(st),
//		server.WithCatalog(cat),
//	)
//	if err != nil {
//		return err
//	}
//	defer sc.Shutdown()
//
// The package also carries the operational HTTP helpers that sit next to
// the container: HealthChecker for Kubernetes liveness and readiness
// probes, MetricsServer for the dedicated Prometheus listener, and
// HookRelay for breaking the construction cycle between the catalog and
// its hook observers.
package server
