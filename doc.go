// Package luaflow runs Lua scripts inside message channels. A channel decodes
// compact binary messages described by a scheme into Lua values, calls the
// script hooks (tll_on_open, tll_on_post, tll_on_data, ...) and encodes what
// the script emits back into binary messages. The codec covers optional
// fields tracked by a presence map, fixed point and decimal128 numbers, time
// points, enums, bit fields, fixed arrays and offset pointers, with
// configurable presentation modes and overflow policies.
//
// A channel is built from a url such as
// "lua+direct://;name=prefix;code=file://prefix.lua" or a YAML file. The
// protocol selects the variant:
//   - lua: standalone, the script emits to the channel callbacks
//   - lua+<child>: prefix over a direct, null or bus child
//   - lua-filter+<child>: forwards child data when tll_filter returns true
//   - lua-logic: reacts to messages of tagged channel groups
//
// # Bus children
//
// A bus:// child publishes posts to a Watermill transport and feeds messages
// from its input topic back to the script. The transports are registered in
// the transport package:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - nats: High-performance messaging
//   - nats-jetstream: Durable NATS streams with pull consumers
//   - http: Request/response messaging
//   - io: File-based persistence
//
// # Faults
//
// A failing hook fires the FaultEvent hook. Decode faults, and any fault of a
// fragile channel, move the channel to the Error state; other faults drop the
// message and are returned to the poster.
//
// # Service
//
// Service hosts the channels of a service file, shares one channel registry
// between them and exposes their status and Prometheus metrics over HTTP. The
// luaflow command checks and runs service files.
package luaflow
