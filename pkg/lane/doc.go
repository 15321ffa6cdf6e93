// Package lane provides named FIFO execution lanes with per-lane
// concurrency control. Tasks submitted to the same lane execute strictly in
// submission order and never overlap (at the default concurrency of one);
// tasks in different lanes run independently. A failing task surfaces its
// error only to its own caller and the lane advances to the next task.
//
// Lanes are created lazily on first use and live for the lifetime of the
// queue.
package lane
