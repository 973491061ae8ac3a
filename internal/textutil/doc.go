// Package textutil provides small text helpers shared by the CLI and storage
// layers, currently the sanitizer that turns transcript file names into run
// identifiers.
package textutil
