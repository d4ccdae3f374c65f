// Package handlers implements the HTTP API: job CRUD, run queries,
// script upload and download, and health endpoints.
package handlers

import "net/http"

type HandlerFunc func(http.ResponseWriter, *http.Request)
