// Package gasserttest provides assertion environments for tests.
package gasserttest
