// Package internal holds identifier and randomness helpers shared by the
// authcore packages.
package internal
