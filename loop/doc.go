// Package loop provides utilities for loop representation and detection.
//
// Loop detection works on the primary block graph of a method. Every edge
// whose target dominates its source is a back edge, and the blocks that reach
// the back edge source without passing through the target form a natural
// loop. Loops sharing a header are merged, then arranged in a nesting forest
// whose topological order puts inner loops before the loops enclosing them.
//
// Each exception table entry is attached to the innermost loop containing the
// first block it protects.
package loop
