// Package domain holds the core models, sentinel errors and port interfaces
// shared across the application. It has no dependencies on other internal
// packages.
package domain
