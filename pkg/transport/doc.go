// Package transport defines the contract peer-to-peer transports satisfy so
// that consensus and gossip code can send, broadcast and receive opaque
// payloads without knowing the wire protocol.
//
// Key concepts:
//   - Config: bind address, codec and the ordered list of inbound sinks
//     (channels, raw writers, retrying callbacks). Sealed once a transport
//     is built from it.
//   - Transport: unicast Send, registry-driven Broadcast, and a pull stream
//     (Next) that runs alongside the push fan-out to sinks.
//   - Core: the shared engine (state machine, encode/decode, fan-out) that
//     concrete transports in the tcp, udp, mem and quic subpackages embed,
//     supplying only a Link that moves bytes.
//   - Error: every failure carries a Code (capacity, serialization, io,
//     incomplete, lock conflict, address parse, peer registry).
package transport
