// Package executor hosts WebAssembly language interpreters on wazero and
// drives them as long-lived sessions.
//
// # Overview
//
// An [Executor] owns one wazero runtime with WASI. Interpreter artifacts are
// compiled once per language and content hash, optionally through a disk
// compilation cache.
//
// # Sessions
//
// A [Session] boots the interpreter into a session loop supplied by the
// [Language] and then talks to it over stdio:
//
//   - commands go to stdin framed as "<kind> <bytes>\n<payload>"
//     (eval, scoped, globals, remove, invalidate, exit);
//   - the loop answers on stderr with \x1eLAB_READY\x1e, \x1eLAB_DONE\x1e,
//     \x1eLAB_ERROR:msg\x1e or \x1eLAB_VALUE:payload\x1e;
//   - host calls arrive as \x1eLAB:{"fn":...,"args":{...}}\x1e and are
//     answered with one JSON line on stdin.
//
// Session implements engine.Engine and engine.Scoped:
//
//	exec, err := executor.New(executor.WithDiskCache())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	session, err := exec.NewSession(ctx, python.New(), wasm,
//	    executor.WithInstaller(packages.NewPyPI(dir, "", nil)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close(ctx)
//
//	session.Eval(ctx, `x = 42`)
//	session.Eval(ctx, `print(x)`) // 42 on the current output sink
//
// # Provisioning
//
// [Provisioner] couples an artifact fetcher with NewSession so the runtime
// adapter can bootstrap an engine without knowing about wazero.
package executor
