// Package logx is campaignd's structured logging on top of zerolog.
//
// Console output is human readable with a short caller. The optional file
// sink writes JSON lines, which is the stream the control surface tails.
// Warnings and errors can be mirrored to a Telegram chat, rate limited.
package logx
