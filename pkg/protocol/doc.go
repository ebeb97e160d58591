// Package protocol defines the relay wire model for ZenTalk clients:
// the signed event envelope, subscription filters, the client/relay
// JSON frames, and the decrypted payload union that multiplexes every
// message sub-type (text, profiles, channels, attachments, call
// signals) through the encrypted direct-message kind.
//
// Relays are plain pub/sub brokers. They store and forward signed
// events and evaluate filters; everything the relay cannot see lives
// inside the encrypted content of kind 4 events.
package protocol
