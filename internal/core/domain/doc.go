// Package domain contains the core business entities and errors for the
// knowledge-base engine. It has no dependencies on adapters or services.
package domain
