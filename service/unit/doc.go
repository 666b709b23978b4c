// Package unit defines continuous units: long-lived pieces of recurring work
// that are stepped repeatedly by the scheduler instead of being run once.
//
// A unit reports the value it produced and the time it used. The scheduler
// derives the unit priority from that value rate and hands out time budgets
// in proportion to it. Steps are never preempted: a unit polls the supplied
// Deadline itself and returns once it fires.
//
// Base implements the bookkeeping and is meant to be embedded. Func turns a
// plain function into a unit and BagUnit steps through the items of a
// PriorityBag, favoring high priority items.
package unit
