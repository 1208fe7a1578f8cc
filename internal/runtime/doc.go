/*
Package runtime hosts lua channels for luaflow.

# Architecture Overview

A lua channel converts compact binary messages described by a scheme into
Lua values, hands them to script hooks and encodes what the script emits
back into binary messages. The runtime package runs a set of such channels
as one service.

# Package Structure

## Service (service.go)

The Service struct wires together:
  - The channels of a service configuration, opened in order
  - One channel registry shared by logic tags and direct children
  - Prometheus metrics for every channel
  - HTTP servers for metrics and the WebUI

## Status (models.go, resources.go)

Per channel state, child state and message, hook and fault counters, plus a
coarse resource usage sample of the process.

## WebUI (webui.go)

HTTP API for introspecting channel state and statistics:
  - /api/channels: status of every channel
  - /api/channels/{name}: status of one channel
  - /metrics: prometheus metrics when enabled

# Sub-packages

  - channel/: Lua channel state machine, child channels, hooks, metrics
  - codec/: Binary value codec driven by a scheme
  - config/: Channel and service configuration with validation
  - envelope/: Channel messages and their watermill form
  - errors/: Sentinel errors and error kinds
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - msgbuf/: Bounds checked views and builders over message buffers
  - scheme/: Scheme model and YAML loader
  - script/: Lua sandbox, primitives and hooks

# Usage Example

	conf, err := config.LoadServiceFile("service.yaml")
	if err != nil {
		return err
	}
	svc, err := runtime.NewService(conf, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
