// Package anonymize replaces raw sender identifiers with stable pseudonyms.
//
// A pseudonym is the salted SHA-256 of the identifier's canonical form,
// truncated to four hex characters. The salt belongs to a run and is
// persisted with its checkpoint, so resumed runs derive identical
// pseudonyms. Mappings are assembled once with a Builder and are read-only
// afterwards.
//
// Identifiers come from three places: message senders, phone-number-shaped
// tokens found in message bodies, and configured extras such as nicknames.
// Phone numbers are canonicalized to their digits (keeping a leading plus) so
// "+1 555-0100" and "+1 (555) 0100" share one pseudonym.
package anonymize
