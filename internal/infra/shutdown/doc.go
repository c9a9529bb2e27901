// Package shutdown runs ordered teardown hooks when graphmesh-server stops.
//
// A Handler waits for SIGINT/SIGTERM or an explicit Trigger (for example a
// shard reporting a durability failure), then runs the registered hooks in
// reverse registration order under a shared deadline:
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("rpc", srv.Shutdown)
//	h.OnShutdown("ingest", svc.Stop)
//	err := h.Wait(ctx)
package shutdown
