// Package graph maintains the in-memory dependency DAG over node IDs.
//
// The graph never owns node definitions or values; those live in the store.
// It answers the structural questions the scheduler needs: which nodes are
// transitively affected by a change, and in what order they must rebuild.
// Edge insertion is validated so the structure is acyclic at all times.
package graph
