// Package main hosts the chronicler CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, opens the checkpoint
// store, and hands transcripts to the pipeline. Subcommands cover running and
// resuming transcripts, inspecting run status, rebuilding a checkpoint from
// written artifacts, and scaffolding configuration.
//
// Keep this package lean: behaviour belongs in the internal packages, and
// commands here only wire them together and render results.
package main
