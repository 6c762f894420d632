// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing steps and step sequences. They are not
// intended for production usage.
package testutil
