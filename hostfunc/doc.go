// Package hostfunc holds the Go functions an interpreter session may call.
//
// A call arrives as a function name plus a JSON object of arguments and its
// result goes back as JSON. Nothing is reachable unless it was registered:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("display", hostfunc.NewDisplay(doc))
//	hostfunc.NewStorage().Register(registry)
//
// # Display
//
// Every display call carries its target element id. A call without one fails
// with [ErrImplicitTarget]; there is no ambient "current element" on the host
// side, so concurrent scripts cannot write into each other's output.
//
// # Network
//
// [HTTP] backs pyfetch. Requests are limited to [HTTPConfig.AllowedHosts]
// and their subdomains, with caps on URL length and body size.
package hostfunc
