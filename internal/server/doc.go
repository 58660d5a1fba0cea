// Package server implements the HTTP surface of modeldrop. It wires the
// routes for uploading, listing, deleting and signing 3D model files, the
// websocket endpoint for live upload notifications, health probes and
// metrics, and provides the lifecycle helpers used by tests and the
// production binary.
package server
