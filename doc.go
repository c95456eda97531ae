// Package datalab runs Python and R against shared tabular datasets inside
// a WebAssembly interpreter.
//
// # Overview
//
// An [adapter.Adapter] drives one interpreter through bootstrap, code
// execution with output capture, dataset injection and environment reset.
// Every user-facing operation is fail-soft: it returns an [adapter.Result]
// whose Output is always a message fit for display.
//
// # Basic Usage
//
//	a, _ := app.New(ctx, cfg, logger, nil)
//	defer a.Close()
//
//	py, _ := a.NewAdapter("python")
//	if err := py.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	py.LoadDataset(ctx, "iris")                 // binds iris_data and iris_csv
//	r := py.Run(ctx, "print(iris_data.shape)")
//	fmt.Println(r.Output)                       // (150, 5)
//
//	py.Clear(ctx)                               // user globals go, datasets stay
//
// Datasets survive Clear and are replayed into the engine before each run,
// so code always sees the last loaded version.
//
// See the [adapter], [executor], [dataset] and [language/python] packages
// for detailed API documentation.
package datalab
