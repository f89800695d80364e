// Package pyhost renders HTML pages that embed Python. Each <py-script>
// block runs in a WebAssembly build of CPython and writes into the page
// through display(); failures show up in the page as error blocks.
//
// # Overview
//
// A page may carry one <py-config> element, TOML by default or JSON with
// type="json", optionally pointing at a further document with src. The
// [config] package parses and validates it and merges inline settings over
// the src document and the defaults. The [page] package then starts one
// interpreter session per render, installs the listed packages, stages
// the listed paths and runs every script block in document order.
//
// # Basic Usage
//
//	exec, _ := executor.New(hostfunc.NewRegistry(), executor.WithDiskCache())
//	defer exec.Close()
//
//	r := page.NewRenderer(exec)
//	p, _ := r.Render(ctx, strings.NewReader(html), "site/index.html")
//	p.Document.Render(os.Stdout)
//
// # Outside a page
//
// A session can also be driven directly. display() always names its
// target; there is no implicit target.
//
//	session, _ := exec.NewSession(python.New(), mod,
//	    executor.WithSessionHostFunc("display", hostfunc.NewTextDisplay(os.Stdout)))
//	session.Exec(ctx, `display("hi", target="stdout")`, "stdout")
//
// Network access is off unless hosts are allowed:
//
//	executor.WithSessionAllowedHosts([]string{"api.example.com"})
//
// See the [executor], [hostfunc], [pyscript] and [page] packages for the
// details, and cmd/pyhost for the command line.
package pyhost
