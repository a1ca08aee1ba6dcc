// Package directory keeps a short-lived registry of occupied rooms so clients
// can discover rooms to join. Entries that stop being refreshed expire.
package directory
