// Package app wires configuration, logging, metrics, the license manager and
// the HTTP surface into a runnable application. It is the only package that
// knows about every other package; nothing below it imports it.
package app
