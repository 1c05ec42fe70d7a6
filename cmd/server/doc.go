// Package main is the entry point for the Databox MCP server.
//
// The Databox server implements a Model Context Protocol (MCP) server that
// runs untrusted data-analysis scripts against caller-provided datasets in
// embedded sandboxes. The server supports both stdio and HTTP transports and
// layers static validation, a restricted script namespace, and bounded
// worker-pool execution between callers and the interpreter.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
