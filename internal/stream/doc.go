// Package stream maintains the WebSocket connection to the chat event
// source, reconnecting with exponential backoff and handing raw frames
// to a synchronous handler in arrival order.
package stream
