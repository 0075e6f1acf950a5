// Package entity defines the persisted lifecycle record of a task, job or
// workflow, its status machine and the Store contract backends implement.
//
// A State exists only while the entity is running. The status machine is:
//
//	absent ──dispatch──▶ running-ok
//	running-* ──retry / restart──▶ running-warning
//	running-ok, running-warning ──exhaust──▶ running-error
//	running-* ──complete──▶ terminated-completed (record deleted)
//	running-* ──cancel──▶ terminated-canceled (record deleted)
package entity
