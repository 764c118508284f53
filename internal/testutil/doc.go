// Package testutil contains helpers shared by package tests: a scripted
// stand-in for the provider gateway and fake executables for the
// subprocess backed solvers. They are not intended for production usage.
package testutil
