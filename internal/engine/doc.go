// Package engine answers questions on a pool of pre-built answering engines.
// It bounds how many engine calls run at once, enforces a wall-clock deadline
// per question, and dispatches work either inline or as tracked async jobs.
package engine
