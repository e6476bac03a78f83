// Package rova provides runtime verification machinery for message-driven
// robotic applications.
//
// The evaluation engine is in package 'core', the concurrent scheduler in
// 'sched', and the command-line tool in `cmd/rova`.
package rova
