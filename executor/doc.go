// Package executor runs interpreter modules compiled to WebAssembly and
// keeps them alive as sessions.
//
// # Basic Usage
//
//	exec, err := executor.New(registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	mod := executor.ModuleBytes("python.wasm", wasm)
//	result := exec.Run(ctx, python.New(), mod, `print("hello")`, "out")
//
// # Sessions
//
// A session keeps its global namespace between execs:
//
//	session, err := exec.NewSession(python.New(), mod)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.Run(ctx, `x = 42`, "")
//	session.Run(ctx, `display(x)`, "out")
//
// The target passed to Exec or Run names the element that display calls
// without an explicit target go to. It travels with the exec command and with
// every display call made during it, so no routing state outlives the exec.
//
// # Host Functions
//
// Interpreter code reaches the host only through functions in the
// [hostfunc.Registry] given to [New] and those added per session with
// [WithSessionHostFunc]. Network access is off unless
// [WithSessionAllowedHosts] names hosts.
//
// # Language Interface
//
// To run another interpreter, implement [Language]. See
// [github.com/caffeineduck/pyhost/language/python].
package executor
