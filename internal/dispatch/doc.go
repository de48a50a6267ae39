// Package dispatch provides the two scheduling contexts the cache runs on:
// a serial controller Queue that owns all mutable cache state, and a bounded
// background Pool for hashing and filesystem work. Network callbacks never
// touch shared state directly; they post closures onto the Queue.
package dispatch
