// Package queue holds tasks between intake and execution.
//
// Queue is the FIFO the manager's dispatch loop drains; Registry is the
// id-keyed index every status query goes through. A task stays in the
// Registry after it leaves the Queue.
package queue
