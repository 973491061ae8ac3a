// Package window partitions a chronologically ordered transcript into
// processing windows.
//
// Duration policies (days, hours) lay a grid anchored at local midnight or
// the top of the hour of the first message in the configured location; each
// window is the half-open interval [Start, End) so a message stamped exactly
// on a boundary opens the later window. Count policies slice the sorted
// stream into fixed-size chunks. Windows with no messages are never emitted.
//
// Grouping always uses the message timestamp.
package window
