// Package privacy guards every outbound provider payload.
//
// A Gate is built from the run's identity mapping and scans text for any
// registered raw identifier after NFKC normalization and Unicode case
// folding. Phone numbers are also compared digit by digit so changing
// separators does not slip past the check.
//
// The only way to obtain a Payload accepted by the generation provider is
// Gate.Seal, which runs the check first. There is no bypass.
package privacy
