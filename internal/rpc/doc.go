// Package rpc is a small symmetric RPC transport for buildmesh peers.
//
// A Conn multiplexes calls in both directions over one stream connection:
// either side may call methods the other side serves through its Mux. Each
// message is a single self-delimiting CBOR frame:
//
//	{k: "call",  s: seq, m: method, a: args}
//	{k: "reply", s: seq, ok: bool, e: message, c: code, d: data}
//
// Frames are written in the order calls are issued. Incoming calls run on
// their own goroutine, so replies may arrive out of order and are matched to
// calls by sequence number. When the underlying connection fails every
// pending call completes with ErrConnectionLost.
//
// Endpoints are described with colon-separated strings,
// for example "tcp:8750", "tcp:port=8750:interface=127.0.0.1",
// "tcp:host=build1:port=8750" and "unix:/run/buildmesh.sock".
package rpc
