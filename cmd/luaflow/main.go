// Command luaflow checks and runs services of lua channels.
package main

import (
	// Bus child transports.
	_ "github.com/drblury/luaflow/transport/transports"
)

func main() {
	Execute()
}
