// Package tracker maintains the set of identities seen in chat within
// a sliding window, persisting it periodically so the set survives a
// restart.
package tracker
