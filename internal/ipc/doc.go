// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and conversions
// between queue models and lightweight wire representations. Controller
// outcomes that a caller can act on, such as outstanding items blocking a
// phase transition or an open approval gate, travel in response fields rather
// than RPC errors so the CLI can render them.
package ipc
