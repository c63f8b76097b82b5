// Package server implements the HTTP API of the transcriber: the run and
// object store APIs of the worker, the notification callback of the bot,
// synchronous recognition and the monitoring endpoints.
package server
