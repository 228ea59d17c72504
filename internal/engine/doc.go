// Package engine coordinates resource resolution. It answers each keyed
// request from the memory index, from the task already in flight for that
// key, or by starting exactly one new task, and it tells idle observers when
// the set of in-flight tasks becomes empty or non-empty.
package engine
