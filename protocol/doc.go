package protocol

// This package implements framing and (de)serialising of the messages that
// relay peers exchange over a raw TCP connection.
//
// This protocol aims to be
//
// - cheap to frame, every message is length prefixed
// - fixed header, so the hot path never scans for delimiters
// - able to carry binary data without escaping
//
// - `Frame`   - One length prefixed unit on the wire, reassembled by FrameReader
// - `Message` - The decoded contents of one frame
// - `Value`   - The typed data carried by a message
//
// === Frame layout
//
// All integers are little endian.
//
//   ```
//   messageLength:u32 | version:u8 | flags:u8 | dataType:u8 | messageType:u8 |
//   messageId:u32 | eventLength:u32 | event | dataLength:u32 | data
//   ```
//
// `messageLength` counts every byte after itself. `flags` is reserved and is
// always written as 0. The current version is 2.
//
// === Data types
//
// - `STRING`  (1) - utf8 bytes
// - `BINARY`  (2) - raw bytes
// - `INTEGER` (3) - 6 byte signed integer, ±(2^47-1)
// - `DECIMAL` (4) - IEEE-754 float64
// - `OBJECT`  (5) - bytes produced by the codec's ObjectSerializer, JSON by default
// - `BOOLEAN` (6) - 1 byte, 0 or 1
// - `EMPTY`   (7) - no bytes
//
// === Message ids
//
// `messageId` is 0 when the sender doesn't need one. Otherwise it is a
// connection scoped counter that wraps from 2^32-1 back to 1. Acks reuse the
// id of the message they acknowledge, and every chunk of a stream reuses the
// id of the message that opened it.
//
// === Routing
//
// Messages a client wants the server to fan out carry their targets packed in
// the event field:
//
//   ```
//   event
//   event|target1,target2
//   event|target1,target2|except1,except2
//   event||except1
//   ```
//
// Because of this event names, peer ids and room names may never contain
// `|` or `,`. Encode rejects them with ErrReservedCharacter.
//
// === Version mismatch
//
// A frame with an unknown version doesn't break the connection. Decode
// returns a message of type MTError with a human readable description, which
// connections surface as an error event.
//
