// Package bootstrap wires the application together: configuration, storage
// backends, the AI gateway, the triage services, and the HTTP API. It keeps
// main.go down to signal handling.
//
// Typical lifecycle:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
