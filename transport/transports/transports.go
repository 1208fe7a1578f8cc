// Package transports imports every built-in bus transport for registration
// with the default registry.
package transports

import (
	_ "github.com/drblury/luaflow/transport/channel"
	_ "github.com/drblury/luaflow/transport/http"
	_ "github.com/drblury/luaflow/transport/io"
	_ "github.com/drblury/luaflow/transport/jetstream"
	_ "github.com/drblury/luaflow/transport/kafka"
	_ "github.com/drblury/luaflow/transport/nats"
	_ "github.com/drblury/luaflow/transport/rabbitmq"
)
