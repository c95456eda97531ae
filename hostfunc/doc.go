// Package hostfunc provides the Go functions an embedded interpreter may
// call back into.
//
// Interpreter code has no implicit access to the host. A call travels over
// the session protocol as {"fn": name, "args": {...}} and is dispatched
// through a [Registry]:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//
// # Built-in Functions
//
// dataset_fetch reads raw CSV text through a [dataset.Source]:
//
//	registry.Register(hostfunc.DatasetFetch, hostfunc.NewDatasetFunc(src))
//
// From Python, once a session is running:
//
//	raw = _fetch_dataset("iris")
//
// time_now returns the host clock in seconds.
package hostfunc
