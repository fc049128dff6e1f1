// Package arch isolates the two operations the tracing core cannot express
// portably: extracting the instruction pointer from a thread's register bank
// and installing a breakpoint trap into an instruction word.  Everything
// else in the core treats register banks and memory words as opaque values.
package arch
